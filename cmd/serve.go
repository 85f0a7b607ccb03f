package cmd

import (
	"context"
	"fmt"

	"nexus/internal/app"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the daemon.
var serveDebug bool

// serveCmd starts the nexus daemon: it binds the transport listener,
// begins cluster session ownership, and reconciles the module
// installation set against configuration until the process is stopped
// or loses its session lease.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nexus daemon",
	Long: `Starts the nexus daemon.

The daemon claims cluster session ownership, binds the physical transport
listener, and reconciles the configured module installation set on a
periodic schedule. It runs until its context is cancelled or its session
lease is lost to another process.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, nexusConfigPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
