package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_Defaults(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}

	// Verify engine defaults
	if cfg.Engine.Mode != "standard" {
		t.Errorf("Engine.Mode = %q, want %q", cfg.Engine.Mode, "standard")
	}
	if cfg.Engine.StepTimeout != "60s" {
		t.Errorf("Engine.StepTimeout = %q, want %q", cfg.Engine.StepTimeout, "60s")
	}
	if cfg.Engine.TurnTimeout != "5m" {
		t.Errorf("Engine.TurnTimeout = %q, want %q", cfg.Engine.TurnTimeout, "5m")
	}
	if cfg.Engine.MaxRetries != 1 {
		t.Errorf("Engine.MaxRetries = %d, want %d", cfg.Engine.MaxRetries, 1)
	}

	// Verify context defaults
	if cfg.Context.MaxTokens != 4096 {
		t.Errorf("Context.MaxTokens = %d, want %d", cfg.Context.MaxTokens, 4096)
	}
	if cfg.Context.FullDetailTurns != 10 {
		t.Errorf("Context.FullDetailTurns = %d, want %d", cfg.Context.FullDetailTurns, 10)
	}

	// Verify registry defaults
	if cfg.Registry.EvictAfterTurns != 20 {
		t.Errorf("Registry.EvictAfterTurns = %d, want %d", cfg.Registry.EvictAfterTurns, 20)
	}

	// Verify generation defaults: static provider so a fresh checkout works offline
	if cfg.Generation.Provider != "static" {
		t.Errorf("Generation.Provider = %q, want %q", cfg.Generation.Provider, "static")
	}
	if cfg.Generation.APIKey != "" {
		t.Errorf("Generation.APIKey = %q, want empty (no default)", cfg.Generation.APIKey)
	}

	// Verify profile defaults
	if !cfg.Profile.Enabled {
		t.Error("Profile.Enabled = false, want true (default)")
	}
	if cfg.Profile.StaleAfter != "24h" {
		t.Errorf("Profile.StaleAfter = %q, want %q", cfg.Profile.StaleAfter, "24h")
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	// Set environment variables
	os.Setenv("PARLEY_LOG_LEVEL", "debug")
	os.Setenv("PARLEY_ENGINE_MAX_RETRIES", "3")
	os.Setenv("PARLEY_REGISTRY_EVICT_AFTER_TURNS", "40")
	defer func() {
		os.Unsetenv("PARLEY_LOG_LEVEL")
		os.Unsetenv("PARLEY_ENGINE_MAX_RETRIES")
		os.Unsetenv("PARLEY_REGISTRY_EVICT_AFTER_TURNS")
	}()

	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify environment overrides
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("Engine.MaxRetries = %d, want %d", cfg.Engine.MaxRetries, 3)
	}
	if cfg.Registry.EvictAfterTurns != 40 {
		t.Errorf("Registry.EvictAfterTurns = %d, want %d", cfg.Registry.EvictAfterTurns, 40)
	}
}

func TestLoader_MissingConfig(t *testing.T) {
	// Create a loader without any config file
	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil (should use defaults)", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	// Should have loaded defaults
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q (default)", cfg.Log.Level, "info")
	}
}

func TestLoader_ConfigFileOverride(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
log:
  level: warn
  format: json
engine:
  mode: thorough
  turn_timeout: "10m"
  max_retries: 2
generation:
  provider: openai
  model: gpt-4o
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify file overrides
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Engine.Mode != "thorough" {
		t.Errorf("Engine.Mode = %q, want %q", cfg.Engine.Mode, "thorough")
	}
	if cfg.Engine.TurnTimeout != "10m" {
		t.Errorf("Engine.TurnTimeout = %q, want %q", cfg.Engine.TurnTimeout, "10m")
	}
	if cfg.Engine.MaxRetries != 2 {
		t.Errorf("Engine.MaxRetries = %d, want %d", cfg.Engine.MaxRetries, 2)
	}
	if cfg.Generation.Provider != "openai" {
		t.Errorf("Generation.Provider = %q, want %q", cfg.Generation.Provider, "openai")
	}
	if cfg.Generation.Model != "gpt-4o" {
		t.Errorf("Generation.Model = %q, want %q", cfg.Generation.Model, "gpt-4o")
	}

	// Unset sections keep their defaults
	if cfg.Context.MaxTokens != 4096 {
		t.Errorf("Context.MaxTokens = %d, want %d (default)", cfg.Context.MaxTokens, 4096)
	}
}

func TestLoader_Precedence(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	// Config file sets level to "warn"
	configContent := `
log:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Environment sets level to "debug" (should override file)
	os.Setenv("PARLEY_LOG_LEVEL", "debug")
	defer os.Unsetenv("PARLEY_LOG_LEVEL")

	loader := NewLoader().WithConfigFile(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (env over file)", cfg.Log.Level, "debug")
	}
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte("log: [unclosed"), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	if _, err := loader.Load(); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

func TestLoader_ConfigFileUsed(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "used.yaml")

	if err := os.WriteFile(configPath, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loader.ConfigFile() != configPath {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), configPath)
	}
}
