package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile payments with the settlement provider",
}

var reconcileOrderCmd = &cobra.Command{
	Use:   "order <order-id>",
	Short: "Run one reconciliation step for an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := gatewayApp()
		if err != nil {
			return err
		}
		defer a.Close()

		order, err := a.reconciler.Poll(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Order %s (%s): %s\n", order.HumanID, order.ID, order.Status)
		for _, p := range order.Payments {
			fmt.Printf("  payment %s  track=%s  status=%s  txid=%s\n",
				p.ID, valueOr(p.TrackID, "-"), p.Status, valueOr(p.TxID, "-"))
		}
		return nil
	},
}

var reconcileSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire payments whose invoice window has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := gatewayApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.reconciler.ExpireStale(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d payment(s)\n", n)
		return nil
	},
}

func init() {
	reconcileCmd.AddCommand(reconcileOrderCmd)
	reconcileCmd.AddCommand(reconcileSweepCmd)
}

func gatewayApp() (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.withGateway(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
