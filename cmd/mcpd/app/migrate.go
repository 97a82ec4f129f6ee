package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/langconnect/mcpd/pkg/logger"
	"github.com/langconnect/mcpd/pkg/registry"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL := os.Getenv("DATABASE_URL")
			if databaseURL == "" {
				return fmt.Errorf("DATABASE_URL must be set")
			}

			store, err := registry.Connect(cmd.Context(), databaseURL)
			if err != nil {
				return fmt.Errorf("connecting to registry database: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("applying migrations: %w", err)
			}

			logger.Info("Migrations applied")
			return nil
		},
	}
}
