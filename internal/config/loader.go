package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "PARLEY",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "PARLEY",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (PARLEY_*)
// 3. Project config (.parley/config.yaml in current directory)
// 4. User config (~/.config/parley/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	// Set defaults first
	l.setDefaults()

	// Configure environment variable reading
	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Config file setup
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")

		// Add search paths in precedence order (first found wins)
		// Project config takes precedence over user config
		l.v.AddConfigPath(ProjectDir)
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "parley"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("log.redact_patterns", []string{})

	// Engine defaults
	l.v.SetDefault("engine.mode", "standard")
	l.v.SetDefault("engine.step_timeout", "60s")
	l.v.SetDefault("engine.turn_timeout", "5m")
	l.v.SetDefault("engine.max_retries", 1)

	// Context defaults
	l.v.SetDefault("context.max_tokens", 4096)
	l.v.SetDefault("context.full_detail_turns", 10)

	// Registry defaults
	l.v.SetDefault("registry.evict_after_turns", 20)

	// Store defaults (unified under .parley/)
	l.v.SetDefault("store.backend", "sqlite")
	l.v.SetDefault("store.path", filepath.Join(ProjectDir, "parley.db"))

	// Generation defaults: the static provider works offline, so a fresh
	// checkout can chat without credentials.
	l.v.SetDefault("generation.provider", "static")
	l.v.SetDefault("generation.base_url", "")
	l.v.SetDefault("generation.model", "gpt-4o-mini")
	l.v.SetDefault("generation.max_tokens", 1024)
	l.v.SetDefault("generation.rate_limit", 0.0)

	// Profile defaults
	l.v.SetDefault("profile.enabled", true)
	l.v.SetDefault("profile.interval", "2m")
	l.v.SetDefault("profile.stale_after", "24h")
	l.v.SetDefault("profile.cache_path", filepath.Join(ProjectDir, "profiles"))
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
