package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/supportdesk/pkg/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbConfig, err := database.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load database config: %w", err)
			}
			// NewClient applies pending migrations before returning.
			client, err := database.NewClient(context.Background(), dbConfig)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			slog.Info("Database schema is up to date", "database", dbConfig.Database)
			return nil
		},
	}
}
