package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd is the base command for the nexus CLI.
var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Run and manage the nexus dispatch daemon",
	Long: `nexus runs the dispatch daemon that coordinates cluster sessions,
routes and dispatches application data, and manages the lifecycle of
installed modules.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the entry point called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "nexus version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nexusConfigPath, "config-path", "", "Custom configuration file path")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(dispatchCmd)
}
