// Package cmd provides CLI commands for moneypots.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "moneypots",
	Short: "Balance aggregation and automated pot transfers",
	Long: `moneypots polls bank balances through an aggregation API, mirrors
them into a home-automation state store, and keeps savings pots aligned
with the balances they track by moving money through the bank's API.

Every transfer passes through a durable idempotency ledger, so a crash
or retry can never move the same money twice.

Example:
  moneypots run --config moneypots.yaml
  moneypots poll --config moneypots.yaml
  moneypots reconcile --dry-run
  moneypots ledger stats`,
}

// Execute adds all child commands to the root command. Called by
// main.main() exactly once.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "moneypots.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// newLogger builds the process logger. Everything downstream derives
// sub-loggers from it rather than touching the global.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
