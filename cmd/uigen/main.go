package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "uigen",
	Short: "generate React or Flutter UI code from a prompt",
	Long: `uigen serves a single page where a prompt is turned into React or
Flutter UI code by a hosted code-generation model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// logLevel is read from the environment at startup and set again once the
// config (which may come from .env or the secrets file) is loaded.
var logLevel slog.LevelVar

func main() {
	// Set up structured logging
	logLevel.Set(parseLogLevel(os.Getenv("LOG_LEVEL")))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &logLevel,
	}))
	slog.SetDefault(logger)

	rootCmd.AddCommand(serveCmd, generateCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseLogLevel maps debug, info, warn and error to a level. Anything else
// is info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
