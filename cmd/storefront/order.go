package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
)

var (
	orderAdminID string
	orderJSON    bool
	orderStatus  string
	orderLimit   int
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Inspect and administer orders",
}

var orderShowCmd = &cobra.Command{
	Use:   "show <order-id>",
	Short: "Show an order with its items and payments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		order, err := store.GetOrder(context.Background(), args[0])
		if err != nil {
			return err
		}
		if orderJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(order)
		}
		printOrder(order)
		return nil
	},
}

var orderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.ListOrders(context.Background(), core.OrderStatus(orderStatus), orderLimit)
		if err != nil {
			return err
		}
		for _, o := range list {
			fmt.Printf("%-20s %-36s %-10s %10s %s  %s\n",
				o.HumanID, o.ID, o.Status, o.Total.StringFixed(2), o.Currency, o.Email)
		}
		fmt.Printf("%d order(s)\n", len(list))
		return nil
	},
}

var orderMarkPaidCmd = &cobra.Command{
	Use:   "mark-paid <order-id>",
	Short: "Manually settle an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(ctx context.Context, a *app) error {
			res, err := a.admin.MarkOrderAsPaid(ctx, cliActor(orderAdminID), args[0])
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var orderSetStatusCmd = &cobra.Command{
	Use:   "set-status <order-id> <status>",
	Short: "Override an order's status",
	Long: `Override an order's status as an administrator.

Valid statuses: pending, processing, paid, delivered, completed, cancelled,
refunded, expired, failed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(ctx context.Context, a *app) error {
			res, err := a.admin.UpdateOrderStatus(ctx, cliActor(orderAdminID), args[0], core.OrderStatus(args[1]))
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var orderRetriggerCmd = &cobra.Command{
	Use:   "retrigger <order-id>",
	Short: "Re-run fulfillment for a paid order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(ctx context.Context, a *app) error {
			out, err := a.admin.RetriggerDelivery(ctx, cliActor(orderAdminID), args[0])
			if err != nil {
				return err
			}
			fmt.Println(out.Message)
			return nil
		})
	},
}

func init() {
	orderShowCmd.Flags().BoolVarP(&orderJSON, "json", "j", false, "output as JSON")
	orderListCmd.Flags().StringVarP(&orderStatus, "status", "s", "", "filter by status")
	orderListCmd.Flags().IntVarP(&orderLimit, "limit", "n", 50, "maximum orders")
	for _, c := range []*cobra.Command{orderMarkPaidCmd, orderSetStatusCmd, orderRetriggerCmd} {
		c.Flags().StringVar(&orderAdminID, "admin", "", "acting administrator's customer id (required)")
		_ = c.MarkFlagRequired("admin")
	}

	orderCmd.AddCommand(orderShowCmd)
	orderCmd.AddCommand(orderListCmd)
	orderCmd.AddCommand(orderMarkPaidCmd)
	orderCmd.AddCommand(orderSetStatusCmd)
	orderCmd.AddCommand(orderRetriggerCmd)
}

// withAdmin runs fn after checking --admin names an active administrator.
func withAdmin(fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	caller, err := a.store.GetCustomer(ctx, orderAdminID)
	if err != nil {
		if errors.Is(err, core.ErrCustomerNotFound) {
			return fmt.Errorf("unknown administrator %q", orderAdminID)
		}
		return err
	}
	if caller.Role != core.RoleAdmin || caller.Status != core.CustomerActive {
		return fmt.Errorf("%s is not an active administrator", orderAdminID)
	}
	return fn(ctx, a)
}

func printOrder(o *core.Order) {
	fmt.Printf("Order %s (%s)\n", o.HumanID, o.ID)
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("  Status:   %s\n", o.Status)
	fmt.Printf("  Email:    %s\n", o.Email)
	fmt.Printf("  Total:    %s %s\n", o.Total.StringFixed(2), o.Currency)
	fmt.Printf("  Created:  %s\n", o.CreatedAt.Format("2006-01-02 15:04:05"))

	fmt.Println("\nItems:")
	for _, it := range o.Items {
		fmt.Printf("  %dx %s %s @ %s\n", it.Quantity, it.ProductID, it.VariantID, it.UnitPrice.StringFixed(2))
	}

	fmt.Println("\nPayments:")
	if len(o.Payments) == 0 {
		fmt.Println("  none")
	}
	for _, p := range o.Payments {
		fmt.Printf("  %s  %-8s %-10s track=%s txid=%s\n",
			p.ID, p.Provider, p.Status, valueOr(p.TrackID, "-"), valueOr(p.TxID, "-"))
	}
}

func printResult(res orders.Result) {
	if !res.Changed {
		fmt.Printf("Order %s unchanged (%s)\n", res.Order.ID, res.Order.Status)
		return
	}
	fmt.Printf("Order %s: %s -> %s\n", res.Order.ID, res.From, res.Order.Status)
}
