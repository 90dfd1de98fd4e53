// Package commands implements the magic CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "magic",
	Short: "Dependency-driven task engine",
	Long: `magic turns a catalog of items and groups into per-task dependency
graphs, filtered by each task's requirements, and tracks the state of
every item until the task's goals are complete.

Run 'magic serve' for the HTTP API, or use the task and item commands
to work against the store directly.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./magic.yaml, then ~/.config/makemagic/config.yaml)")
	rootCmd.PersistentFlags().String("catalog", "", "Item catalog file (overrides catalog.path)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
}
