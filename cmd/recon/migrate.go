package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-reconciler/internal/cli"
	"github.com/Veraticus/receipt-reconciler/internal/config"
	"github.com/Veraticus/receipt-reconciler/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Create or update the database schema. Migrations are idempotent and
also run automatically whenever another command opens the database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}

			slog.Info("Starting database migration", "database", cfg.Database.Path)

			store, err := storage.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Database is up to date: "+cfg.Database.Path))
			return nil
		},
	}
}
