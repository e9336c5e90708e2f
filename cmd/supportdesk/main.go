// supportdesk routes students to live support agents: it serves the
// WebSocket and REST APIs, runs the event dispatcher, and manages the
// waiting queue.
package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/supportdesk/pkg/version"
)

var configDir string

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier used in logs and worker names.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// newLogger builds the process logger from LOG_FORMAT (json|text) and
// LOG_LEVEL (debug|info|warn|error).
func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// loadEnv loads <config-dir>/.env and installs the logger it configures.
func loadEnv() {
	envPath := filepath.Join(configDir, ".env")
	envErr := godotenv.Load(envPath)

	slog.SetDefault(newLogger())
	if envErr != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", envErr)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}
}

func main() {
	root := &cobra.Command{
		Use:     version.AppName,
		Short:   "Live support routing between students and support agents",
		Version: version.Full(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadEnv()
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(usersCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
