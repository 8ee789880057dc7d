package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kazsia/rainyday-new-sub001/internal/storage"
)

var stockFile string

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Manage deliverable stock",
}

var stockAddCmd = &cobra.Command{
	Use:   "add <product-id> [item...]",
	Short: "Load deliverable items for a product",
	Long: `Load deliverable items (license keys, account credentials, ...) for a
product. Items come from arguments or, with --file, one per line.

Examples:
  storefront stock add prod-1 KEY-AAAA KEY-BBBB
  storefront stock add prod-1 --file keys.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items := args[1:]
		if stockFile != "" {
			lines, err := readLines(stockFile)
			if err != nil {
				return err
			}
			items = append(items, lines...)
		}
		if len(items) == 0 {
			return fmt.Errorf("no items given")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		if err := store.AddStock(ctx, args[0], items...); err != nil {
			return err
		}
		n, err := store.AvailableStock(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Added %d item(s) to %s; %d available\n", len(items), args[0], n)
		return nil
	},
}

var stockCountCmd = &cobra.Command{
	Use:   "count <product-id>",
	Short: "Show unassigned stock for a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.AvailableStock(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d available\n", args[0], n)
		return nil
	},
}

func init() {
	stockAddCmd.Flags().StringVarP(&stockFile, "file", "f", "", "read items from a file, one per line")

	stockCmd.AddCommand(stockAddCmd)
	stockCmd.AddCommand(stockCountCmd)
}

// openStore opens the database without wiring any service.
func openStore() (*storage.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Database.Driver, cfg.Database.DSN)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
