// Package cmd provides the command-line interface of the hybrid memory
// simulator.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hybridmem",
	Short: "Discrete-event simulator of a two-tier hybrid memory controller",
	Long: `hybridmem simulates a memory controller that caches a large, slow ` +
		`backing tier in a small, fast tier. It drives the controller with ` +
		`random traffic, checks every read, and reports the statistics.`,
}

// Execute runs the CLI root command. Registered exit hooks, such as trace
// flushes, run before the process exits.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
