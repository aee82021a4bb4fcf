package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/config"
)

func TestParseDurationDefault(t *testing.T) {
	tests := []struct {
		value    string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{"", time.Minute, time.Minute, false},
		{"  ", time.Minute, time.Minute, false},
		{"30s", time.Minute, 30 * time.Second, false},
		{"2h", 0, 2 * time.Hour, false},
		{"soon", time.Minute, 0, true},
	}

	for _, tt := range tests {
		got, err := parseDurationDefault(tt.value, tt.fallback)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDurationDefault(%q) err = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseDurationDefault(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Engine:   config.EngineConfig{StepTimeout: "45s", TurnTimeout: "3m", MaxRetries: 2},
		Context:  config.ContextConfig{MaxTokens: 2048, FullDetailTurns: 5},
		Registry: config.RegistryConfig{EvictAfterTurns: 10},
		Profile:  config.ProfileConfig{StaleAfter: "1h"},
	}

	settings, err := settingsFromConfig(cfg)
	if err != nil {
		t.Fatalf("settingsFromConfig: %v", err)
	}
	if settings.StepTimeout != 45*time.Second {
		t.Errorf("step timeout = %v", settings.StepTimeout)
	}
	if settings.TurnTimeout != 3*time.Minute {
		t.Errorf("turn timeout = %v", settings.TurnTimeout)
	}
	if settings.MaxRetries != 2 || settings.MaxContextTokens != 2048 ||
		settings.FullDetailTurns != 5 || settings.EvictAfterTurns != 10 {
		t.Errorf("settings = %+v", settings)
	}
	if settings.ProfileStaleAfter != time.Hour {
		t.Errorf("stale after = %v", settings.ProfileStaleAfter)
	}

	cfg.Engine.StepTimeout = "whenever"
	if _, err := settingsFromConfig(cfg); err == nil {
		t.Error("invalid step timeout should fail")
	}
}

func TestDefaultMode(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{"standard", "standard"},
		{"Thorough", "thorough"},
		{"turbo", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := defaultMode(&config.Config{Engine: config.EngineConfig{Mode: tt.mode}}); string(got) != tt.want {
			t.Errorf("defaultMode(%q) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	configPath := filepath.Join(dir, config.ProjectDir, "config.yaml")
	raw, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if len(raw) == 0 {
		t.Error("config file is empty")
	}

	// Second init without --force must refuse to overwrite.
	if err := runInit(nil, nil); err == nil {
		t.Error("re-init without --force should fail")
	}

	initForce = true
	t.Cleanup(func() { initForce = false })
	if err := runInit(nil, nil); err != nil {
		t.Errorf("re-init with --force: %v", err)
	}
}
