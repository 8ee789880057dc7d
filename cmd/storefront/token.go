package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kazsia/rainyday-new-sub001/internal/delivery"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue and inspect delivery tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <order-id>",
	Short: "Mint a delivery link for a paid order",
	Long: `Mint a fresh delivery token for an order's buyer and print the link.

Tokens are single use; issuing a new one does not revoke earlier tokens.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		order, err := a.orders.GetOrder(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !order.Status.Deliverable() {
			return fmt.Errorf("order %s is %s; only paid orders can be delivered", order.ID, order.Status)
		}

		token, err := a.signer.Issue(order.ID, order.Email)
		if err != nil {
			return err
		}
		fmt.Printf("%s/delivery/%s?token=%s\n", cfg.Delivery.PublicURL, order.ID, token)
		return nil
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Verify a token and show its claims and use state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.signer.Parse(args[0])
		if err != nil {
			fmt.Printf("Order hint: %s\n", valueOr(delivery.OrderIDHint(args[0]), "-"))
			return fmt.Errorf("token rejected: %w", err)
		}
		used, err := a.store.IsTokenUsed(context.Background(), v.TokenID)
		if err != nil {
			return err
		}

		fmt.Printf("Order:    %s\n", v.OrderID)
		fmt.Printf("Email:    %s\n", v.Email)
		fmt.Printf("Token ID: %s\n", v.TokenID)
		fmt.Printf("Issued:   %s\n", v.IssuedAt.Format(time.RFC3339))
		fmt.Printf("Expires:  %s\n", v.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("Used:     %t\n", used)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenInspectCmd)
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
