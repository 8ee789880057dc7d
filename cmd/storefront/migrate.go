package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kazsia/rainyday-new-sub001/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Create or upgrade the storefront schema in the configured database.

The schema is idempotent; running migrate against an up-to-date database
changes nothing.

Examples:
  storefront migrate
  STOREFRONT_DATABASE_DRIVER=postgres STOREFRONT_DATABASE_DSN=postgres://... storefront migrate`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		return fmt.Errorf("database unreachable after migration: %w", err)
	}

	logger.Debug("schema applied", "driver", cfg.Database.Driver)
	fmt.Printf("Schema up to date (%s)\n", cfg.Database.Driver)
	return nil
}
