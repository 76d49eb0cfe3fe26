// Command prodscout runs the product-intelligence reconnaissance
// pipeline. It has two entry points: "pipeline" runs the full four-stage
// pipeline, "scraper" runs the microblog direct scraper in isolation.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"prodscout/internal/observability/logging"
)

// Exit codes of the pipeline subcommand.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitPartialFailure = 2
	exitFatal          = 3
)

var configPath string

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "prodscout",
		Short:         "Product-intelligence reconnaissance pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.ini", "path to the INI configuration file")

	root.AddCommand(newPipelineCmd(logger))
	root.AddCommand(newScraperCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", slog.Any("error", err))
		os.Exit(exitFatal)
	}
}
