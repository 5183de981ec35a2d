// Package cmd provides the CLI commands for the CampusMind engine.
//
// Commands:
//   - serve: HTTP API server for ingestion, querying, and summaries
//   - migrate: apply pending database migrations
//   - version: show version and build information
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "campusmind",
	Short: "CampusMind - retrieval-grounded study assistant engine",
	Long: `CampusMind indexes study material into a vector store and answers
questions grounded in that material, with citations back to the source
chunks. Run "campusmind serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute is the main entry point for the CampusMind CLI.
func Execute() error {
	initLogger()
	return rootCmd.Execute()
}

// initLogger installs the default structured logger. Log level is
// controlled by the DEBUG environment variable.
func initLogger() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))
}
