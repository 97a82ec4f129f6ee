// Package app provides the entry point for the mcpd command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/langconnect/mcpd/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcpd",
	DisableAutoGenTag: true,
	Short:             "mcpd is a control plane for user-owned MCP servers",
	Long: `mcpd manages MCP (Model Context Protocol) servers as Docker containers.
It keeps a registry of server definitions in Postgres, drives container
lifecycle through the Docker socket, and exposes a REST API for
registering, starting, stopping, and observing servers.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the mcpd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
