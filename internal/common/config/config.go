// Package config provides configuration management for diffview.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kandev/diffview/internal/common/logger"
)

// Git history backends.
const (
	GitBackendCLI   = "cli"
	GitBackendGoGit = "gogit"
)

// Config holds all configuration sections for diffview.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Git     GitConfig     `mapstructure:"git"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Editor  EditorConfig  `mapstructure:"editor"`
	NATS    NATSConfig    `mapstructure:"nats"`
	I18n    I18nConfig    `mapstructure:"i18n"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`         // 0 picks a random dynamic port
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// GitConfig selects and tunes the history backend used by the diff engine.
type GitConfig struct {
	Backend string `mapstructure:"backend"` // cli or gogit
	Binary  string `mapstructure:"binary"`
	Timeout int    `mapstructure:"timeout"` // in seconds, per query
}

// WatcherConfig holds filesystem watcher configuration.
type WatcherConfig struct {
	DebounceMs int `mapstructure:"debounceMs"`
}

// EditorConfig holds the command used by the open-in-editor action.
type EditorConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// I18nConfig holds the language used for CLI messages.
type I18nConfig struct {
	Language string `mapstructure:"language"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TimeoutDuration returns the per-query git timeout.
func (g *GitConfig) TimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// Debounce returns the watcher debounce window.
func (w *WatcherConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.readTimeout", 30)
	// Websocket connections are long lived; the write deadline is per frame.
	v.SetDefault("server.writeTimeout", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.DetectFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("git.backend", GitBackendCLI)
	v.SetDefault("git.binary", "git")
	v.SetDefault("git.timeout", 30)

	v.SetDefault("watcher.debounceMs", 100)

	v.SetDefault("editor.command", "cursor")
	v.SetDefault("editor.args", []string{})

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "diffview")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("i18n.language", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DIFFVIEW_ with "." replaced by "_".
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DIFFVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not convert camelCase keys, so bind the ones people set most.
	_ = v.BindEnv("server.port", "DIFFVIEW_PORT", "DIFFVIEW_SERVER_PORT")
	_ = v.BindEnv("git.backend", "DIFFVIEW_GIT_BACKEND")
	_ = v.BindEnv("watcher.debounceMs", "DIFFVIEW_WATCHER_DEBOUNCE_MS")
	_ = v.BindEnv("editor.command", "DIFFVIEW_EDITOR", "DIFFVIEW_EDITOR_COMMAND")
	_ = v.BindEnv("nats.url", "DIFFVIEW_NATS_URL")
	_ = v.BindEnv("i18n.language", "DIFFVIEW_LANG")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.diffview")
	v.AddConfigPath("/etc/diffview/")

	// A missing config file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks value ranges and enumerations.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server timeouts must not be negative")
	}

	switch cfg.Git.Backend {
	case GitBackendCLI, GitBackendGoGit:
	default:
		errs = append(errs, fmt.Sprintf("git.backend must be %q or %q", GitBackendCLI, GitBackendGoGit))
	}
	if cfg.Git.Backend == GitBackendCLI && strings.TrimSpace(cfg.Git.Binary) == "" {
		errs = append(errs, "git.binary is required for the cli backend")
	}
	if cfg.Git.Timeout <= 0 {
		errs = append(errs, "git.timeout must be positive")
	}

	if cfg.Watcher.DebounceMs < 0 {
		errs = append(errs, "watcher.debounceMs must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
