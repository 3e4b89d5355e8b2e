package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// logLevel overrides LOG_LEVEL from the environment.
	logLevel string

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "newsletterctl",
	Short: "Operate the newsletter backend",
	Long: `newsletterctl runs the maintenance jobs of the newsletter backend by
hand: bounce processing, rule imports, campaign delivery and migrations.

Settings come from the environment and an optional .env file, the same as
for the server.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: $LOG_LEVEL)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	rootCmd.AddCommand(bouncesCmd)
	rootCmd.AddCommand(campaignsCmd)
	rootCmd.AddCommand(migrateCmd)
}
