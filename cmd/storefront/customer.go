package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

var (
	customerEmail  string
	customerRole   string
	customerUserID string
)

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Manage customer records",
}

var customerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a customer record",
	Long: `Create a customer record directly in the store. Use this to bootstrap the
first administrator; later role changes go through the admin API so they are
audited.

Examples:
  storefront customer add --email ops@example.com --role admin --user-id ops`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch customerRole {
		case core.RoleCustomer, core.RoleStaff, core.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", customerRole)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c := &core.Customer{
			ID:      uuid.New().String(),
			UserID:  customerUserID,
			Email:   customerEmail,
			Role:    customerRole,
			Status:  core.CustomerActive,
			Balance: decimal.Zero,
		}
		if err := store.SaveCustomer(context.Background(), c); err != nil {
			return err
		}
		fmt.Printf("Created %s %s (%s)\n", c.Role, c.ID, c.Email)
		return nil
	},
}

var customerBanCmd = &cobra.Command{
	Use:   "ban <customer-id>",
	Short: "Ban a customer and end their sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(ctx context.Context, a *app) error {
			c, err := a.admin.BanCustomer(ctx, cliActor(orderAdminID), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Customer %s is %s\n", c.ID, c.Status)
			return nil
		})
	},
}

func init() {
	customerAddCmd.Flags().StringVar(&customerEmail, "email", "", "customer email (required)")
	customerAddCmd.Flags().StringVar(&customerRole, "role", core.RoleCustomer, "role: customer, staff or admin")
	customerAddCmd.Flags().StringVar(&customerUserID, "user-id", "", "identity-layer user id; empty for a guest")
	_ = customerAddCmd.MarkFlagRequired("email")

	customerBanCmd.Flags().StringVar(&orderAdminID, "admin", "", "acting administrator's customer id (required)")
	_ = customerBanCmd.MarkFlagRequired("admin")

	customerCmd.AddCommand(customerAddCmd)
	customerCmd.AddCommand(customerBanCmd)
}
