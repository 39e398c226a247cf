// Package cli wires the application's commands and shared collaborators.
package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/pkg/model"
	"github.com/quotabar/quotabar/pkg/notify"
	"github.com/quotabar/quotabar/pkg/shell"
	"github.com/quotabar/quotabar/pkg/snapshot"
	"github.com/quotabar/quotabar/pkg/storage"
	"github.com/quotabar/quotabar/pkg/tokenusage"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quotabar",
	Short: "quotabar - AI usage-limit monitoring for ChatGPT Codex and Claude Code",
	Long: `quotabar watches the rate-limit windows of ChatGPT Codex and Claude Code
through an authenticated browser session, persists snapshots for widgets and
scripts, sends threshold notifications, and schedules wake-up calls.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.quotabar/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initSnapshotStore opens the shared snapshot container.
func initSnapshotStore(cfg *config.Config) (*snapshot.Store, error) {
	return snapshot.NewStore(cfg.Storage.SnapshotDir)
}

// initHistory opens the SQLite history database.
func initHistory(cfg *config.Config) (*storage.SQLite, error) {
	return storage.NewSQLite(cfg.Storage.HistoryPath)
}

// initNotifiers creates notification destinations from config.
func initNotifiers(cfg *config.Config) []notify.Notifier {
	var notifiers []notify.Notifier

	if cfg.Notifications.Desktop.Enabled {
		notifiers = append(notifiers, notify.NewDesktopNotifier("quotabar"))
	}
	if cfg.Notifications.Slack.Enabled && cfg.Notifications.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(
			cfg.Notifications.Slack.WebhookURL,
			cfg.Notifications.Slack.Channel,
		))
	}
	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(
			cfg.Notifications.Webhook.URL,
			cfg.Notifications.Webhook.Secret,
		))
	}

	return notifiers
}

// initShell returns the login-shell runner from config.
func initShell(cfg *config.Config) shell.Runner {
	return shell.NewLoginShell(cfg.Shell.Path)
}

// tokenOptions resolves a provider's accounting CLI options.
func tokenOptions(cfg *config.Config, p model.UsageProvider) tokenusage.Options {
	tc := cfg.TokenUsageFor(p)
	opts := tokenusage.Options{
		Command:   tc.Command,
		ExtraArgs: tc.ExtraArgs,
	}
	if tc.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(tc.TimeoutSeconds) * time.Second
	}
	return opts
}
