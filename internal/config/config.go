// Package config loads and persists the application configuration and
// the wake-up schedule file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quotabar/quotabar/pkg/model"
)

// Refresh interval bounds, in minutes. Enforced on every read and write;
// out-of-range values from the file or the environment are clamped, not
// rejected.
const (
	minRefreshMinutes = 1
	maxRefreshMinutes = 10
)

// Config holds all quotabar configuration.
type Config struct {
	Storage       StorageConfig                       `mapstructure:"storage" yaml:"storage"`
	Browser       BrowserConfig                       `mapstructure:"browser" yaml:"browser"`
	Logging       LoggingConfig                       `mapstructure:"logging" yaml:"logging"`
	Refresh       RefreshConfig                       `mapstructure:"refresh" yaml:"refresh"`
	Display       DisplayConfig                       `mapstructure:"display" yaml:"display"`
	Notifications NotificationsConfig                 `mapstructure:"notifications" yaml:"notifications"`
	Thresholds    map[string]model.ProviderThresholds `mapstructure:"thresholds" yaml:"thresholds"`
	TokenUsage    map[string]TokenUsageConfig         `mapstructure:"token_usage" yaml:"token_usage"`
	Server        ServerConfig                        `mapstructure:"server" yaml:"server"`
	Shell         ShellConfig                         `mapstructure:"shell" yaml:"shell"`

	mu   sync.Mutex `mapstructure:"-" yaml:"-"`
	path string     `mapstructure:"-" yaml:"-"`
}

// StorageConfig defines on-disk locations.
type StorageConfig struct {
	// SnapshotDir is the shared container directory external readers poll.
	SnapshotDir string `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
	// HistoryPath is the SQLite history database.
	HistoryPath string `mapstructure:"history_path" yaml:"history_path"`
	// AgentsDir holds launchd job descriptors.
	AgentsDir string `mapstructure:"agents_dir" yaml:"agents_dir"`
	// LogDir holds wake-up job logs.
	LogDir string `mapstructure:"log_dir" yaml:"log_dir"`
	// SchedulesPath is the wake-up schedule YAML file.
	SchedulesPath string `mapstructure:"schedules_path" yaml:"schedules_path"`
}

// BrowserConfig defines the DevTools endpoint of the embedded browser.
type BrowserConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RefreshConfig defines the auto-refresh cadence.
type RefreshConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes" yaml:"interval_minutes"`
}

// DisplayConfig defines presentation preferences. CachedMode records the
// mode the persisted snapshots were last converted to; it trails Mode
// until the conversion pass completes.
type DisplayConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode"`
	CachedMode string `mapstructure:"cached_mode" yaml:"cached_mode"`
	// TapAction selects what a deep link does: "open_page" or "refresh".
	TapAction string `mapstructure:"tap_action" yaml:"tap_action"`
	// VisibleProvider is the currently-selected provider.
	VisibleProvider string `mapstructure:"visible_provider" yaml:"visible_provider"`
}

// NotificationsConfig defines delivery destinations.
type NotificationsConfig struct {
	Desktop DesktopConfig `mapstructure:"desktop" yaml:"desktop"`
	Slack   SlackConfig   `mapstructure:"slack" yaml:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// DesktopConfig defines native notification settings.
type DesktopConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Secret  string `mapstructure:"secret" yaml:"secret"`
}

// TokenUsageConfig defines one provider's accounting CLI integration.
type TokenUsageConfig struct {
	Command        string `mapstructure:"command" yaml:"command"`
	ExtraArgs      string `mapstructure:"extra_args" yaml:"extra_args"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// ServerConfig defines the local HTTP API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// ShellConfig defines the login shell used for CLI and launchctl calls.
type ShellConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}
	baseDir := filepath.Join(home, ".quotabar")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(baseDir)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	v.SetDefault("storage.snapshot_dir", filepath.Join(baseDir, "snapshots"))
	v.SetDefault("storage.history_path", filepath.Join(baseDir, "history.db"))
	v.SetDefault("storage.agents_dir", filepath.Join(home, "Library", "LaunchAgents"))
	v.SetDefault("storage.log_dir", filepath.Join(baseDir, "logs"))
	v.SetDefault("storage.schedules_path", filepath.Join(baseDir, "schedules.yaml"))
	v.SetDefault("browser.endpoint", "http://127.0.0.1:9222")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("refresh.interval_minutes", 3)
	v.SetDefault("display.mode", string(model.ModeUsed))
	v.SetDefault("display.cached_mode", string(model.ModeUsed))
	v.SetDefault("display.tap_action", "open_page")
	v.SetDefault("display.visible_provider", string(model.ProviderCodex))
	v.SetDefault("notifications.desktop.enabled", true)
	v.SetDefault("notifications.slack.channel", "#usage-limits")
	v.SetDefault("token_usage.claude.command", "ccusage")
	v.SetDefault("token_usage.codex.command", "ccusage-codex")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:4114")
	v.SetDefault("shell.path", "/bin/zsh")

	// Environment variables
	v.SetEnvPrefix("QUOTABAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.path = v.ConfigFileUsed()
	if cfg.path == "" {
		cfg.path = filepath.Join(baseDir, "config.yaml")
	}
	cfg.Refresh.IntervalMinutes = clampInterval(cfg.Refresh.IntervalMinutes)
	for key, t := range cfg.Thresholds {
		t.Normalize()
		cfg.Thresholds[key] = t
	}

	return &cfg, nil
}

func clampInterval(minutes int) int {
	if minutes < minRefreshMinutes {
		return minRefreshMinutes
	}
	if minutes > maxRefreshMinutes {
		return maxRefreshMinutes
	}
	return minutes
}

// RefreshInterval returns the clamped auto-refresh period.
func (c *Config) RefreshInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(clampInterval(c.Refresh.IntervalMinutes)) * time.Minute
}

// SetRefreshInterval records a new interval, clamped to the supported range.
func (c *Config) SetRefreshInterval(minutes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Refresh.IntervalMinutes = clampInterval(minutes)
}

// DisplayMode returns the stored display-mode preference.
func (c *Config) DisplayMode() model.DisplayMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode, ok := model.ParseDisplayMode(c.Display.Mode); ok {
		return mode
	}
	return model.ModeUsed
}

// SetDisplayMode records a display-mode change, updating both the
// preference and the cached-mode marker.
func (c *Config) SetDisplayMode(mode model.DisplayMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Display.Mode = string(mode)
	c.Display.CachedMode = string(mode)
}

// CachedDisplayMode returns the mode the persisted snapshots were last
// converted to. It trails DisplayMode when a mode change was recorded
// while no process was around to rewrite the snapshots.
func (c *Config) CachedDisplayMode() model.DisplayMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode, ok := model.ParseDisplayMode(c.Display.CachedMode); ok {
		return mode
	}
	return model.ModeUsed
}

// TapAction returns the widget tap preference.
func (c *Config) TapAction() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Display.TapAction
}

// VisibleProvider returns the currently-selected provider.
func (c *Config) VisibleProvider() model.UsageProvider {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := model.ParseProvider(c.Display.VisibleProvider); ok {
		return p
	}
	return model.ProviderCodex
}

// ProviderThresholds returns the normalized threshold settings for a
// provider, falling back to defaults when unconfigured.
func (c *Config) ProviderThresholds(p model.UsageProvider) model.ProviderThresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.Thresholds[p.StorageKey()]
	if !ok {
		return model.DefaultThresholds()
	}
	t.Normalize()
	return t
}

// SetProviderThresholds records normalized threshold settings.
func (c *Config) SetProviderThresholds(p model.UsageProvider, t model.ProviderThresholds) {
	t.Normalize()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Thresholds == nil {
		c.Thresholds = make(map[string]model.ProviderThresholds)
	}
	c.Thresholds[p.StorageKey()] = t
}

// TokenUsageFor returns the accounting CLI settings for a provider.
func (c *Config) TokenUsageFor(p model.UsageProvider) TokenUsageConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.TokenUsage[p.StorageKey()]
}

// Path returns the file Save writes to.
func (c *Config) Path() string { return c.path }

// Save persists the configuration to its YAML file atomically.
func (c *Config) Save() error {
	c.mu.Lock()
	data, err := yaml.Marshal(c)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(c.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
