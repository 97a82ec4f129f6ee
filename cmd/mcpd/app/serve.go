package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/langconnect/mcpd/pkg/api"
	"github.com/langconnect/mcpd/pkg/config"
	"github.com/langconnect/mcpd/pkg/container/docker"
	"github.com/langconnect/mcpd/pkg/logger"
	"github.com/langconnect/mcpd/pkg/registry"
	"github.com/langconnect/mcpd/pkg/servers"
	"github.com/langconnect/mcpd/pkg/tokens"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mcpd API server",
		Long: `Start the control plane: connect to Postgres, apply pending migrations,
attach to the Docker daemon, and serve the REST API until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			store, err := registry.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to registry database: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("applying migrations: %w", err)
			}

			rt, err := docker.NewClient(ctx, cfg.NetworkName)
			if err != nil {
				return fmt.Errorf("connecting to container runtime: %w", err)
			}

			tokenManager := tokens.NewManager(cfg.APIBaseURL, cfg.SupabaseURL, cfg.SupabaseKey, cfg.JWTSecret)
			manager := servers.NewManager(store, rt, tokenManager)

			svc := api.Services{
				Runtime: rt,
				Tokens:  tokenManager,
				Manager: manager,
				Monitor: servers.NewMonitor(manager, cfg.MonitorInterval),
			}
			address := fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port"))
			return api.Serve(ctx, address, svc)
		},
	}

	cmd.Flags().String("host", "0.0.0.0", "Host address to bind to")
	cmd.Flags().Int("port", 8080, "Port to listen on")
	if err := viper.BindPFlag("host", cmd.Flags().Lookup("host")); err != nil {
		logger.Errorf("Error binding host flag: %v", err)
	}
	if err := viper.BindPFlag("port", cmd.Flags().Lookup("port")); err != nil {
		logger.Errorf("Error binding port flag: %v", err)
	}

	return cmd
}
