package kconsole

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/kconsole/default"
)

// Config represents the user's kconsole configuration.
type Config struct {
	Version int           `toml:"version"`
	Kernel  KernelConfig  `toml:"kernel"`
	History HistoryConfig `toml:"history"`
	Inspect InspectConfig `toml:"inspect"`
	Log     LogConfig     `toml:"log"`
}

// KernelConfig holds settings for reaching the kernel daemon.
type KernelConfig struct {
	Socket         string `toml:"socket"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// HistoryConfig holds settings for the persisted history index.
type HistoryConfig struct {
	File       string `toml:"file"`
	MaxEntries int    `toml:"max_entries"`
	Dimensions int    `toml:"dimensions"`
	Search     *bool  `toml:"search"`
}

// InspectConfig holds introspection settings.
type InspectConfig struct {
	DetailLevel     int `toml:"detail_level"`
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	// File, when set, sends logs to a rotating file instead of stderr.
	File string `toml:"file"`
}

// ConfigDir returns the config directory path.
// Resolution order: $KCONSOLE_CONFIG_DIR > $XDG_CONFIG_HOME/kconsole > ~/.config/kconsole
func ConfigDir() string {
	if dir := os.Getenv("KCONSOLE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "kconsole")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "kconsole-config")
	}
	return filepath.Join(home, ".config", "kconsole")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("kconsole: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path, filling missing fields with defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Kernel.TimeoutSeconds == 0 {
		cfg.Kernel.TimeoutSeconds = defaults.Kernel.TimeoutSeconds
	}
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = defaults.History.MaxEntries
	}
	if cfg.History.Dimensions == 0 {
		cfg.History.Dimensions = defaults.History.Dimensions
	}
	if cfg.History.Search == nil {
		cfg.History.Search = defaults.History.Search
	}
	if cfg.Inspect.CacheTTLSeconds == 0 {
		cfg.Inspect.CacheTTLSeconds = defaults.Inspect.CacheTTLSeconds
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Inspect.DetailLevel < 0 || cfg.Inspect.DetailLevel > 1 {
		warnings = append(warnings, fmt.Sprintf("inspect.detail_level %d is out of range; kernels accept 0 or 1", cfg.Inspect.DetailLevel))
	}
	if cfg.History.Dimensions < 16 {
		warnings = append(warnings, "history.dimensions below 16 makes history search unreliable")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		warnings = append(warnings, "unknown log.level "+cfg.Log.Level+"; using info")
	}
	return warnings
}

// ResolveSocketPath returns the kernel socket path.
// Priority: $KCONSOLE_SOCKET env > config value > $XDG_RUNTIME_DIR/kconsole.sock > /tmp/kconsole-<uid>.sock
func ResolveSocketPath(cfg *Config) string {
	if path := os.Getenv("KCONSOLE_SOCKET"); path != "" {
		return path
	}
	if cfg != nil && cfg.Kernel.Socket != "" {
		return cfg.Kernel.Socket
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/kconsole.sock"
	}
	return fmt.Sprintf("/tmp/kconsole-%d.sock", os.Getuid())
}

// ResolveHistoryFile returns the history index cache path.
// Priority: $KCONSOLE_HISTORY_FILE env > config value > <config dir>/history.json
func ResolveHistoryFile(cfg *Config) string {
	if path := os.Getenv("KCONSOLE_HISTORY_FILE"); path != "" {
		return path
	}
	if cfg != nil && cfg.History.File != "" {
		return cfg.History.File
	}
	return filepath.Join(ConfigDir(), "history.json")
}

// KernelTimeout returns the per-request kernel timeout.
func KernelTimeout(cfg *Config) time.Duration {
	if cfg == nil || cfg.Kernel.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.Kernel.TimeoutSeconds) * time.Second
}

// HistorySearchEnabled reports whether semantic history search is on.
func HistorySearchEnabled(cfg *Config) bool {
	if cfg == nil || cfg.History.Search == nil {
		return true // default true
	}
	return *cfg.History.Search
}
