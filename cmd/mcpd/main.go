// Package main is the entry point for the mcpd CLI.
package main

import (
	"os"

	"github.com/langconnect/mcpd/cmd/mcpd/app"
	"github.com/langconnect/mcpd/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
