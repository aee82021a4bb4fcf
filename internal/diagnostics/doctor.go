package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parley-ai/parley/internal/adapters/state"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/core"
)

// CheckStatus is the outcome of one doctor check.
type CheckStatus string

const (
	StatusOK   CheckStatus = "ok"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// CheckResult is one line of the doctor report.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Detail  string      `json:"detail,omitempty"`
	Elapsed string      `json:"elapsed,omitempty"`
}

// Report is the full doctor output.
type Report struct {
	Checks  []CheckResult `json:"checks"`
	System  SystemMetrics `json:"system"`
	Healthy bool          `json:"healthy"`
}

// RunDoctor executes every check against the given configuration.
func RunDoctor(ctx context.Context, cfg *config.Config) Report {
	report := Report{Healthy: true}

	checks := []struct {
		name string
		run  func(context.Context, *config.Config) (CheckStatus, string)
	}{
		{"config", checkConfig},
		{"store", checkStore},
		{"profile cache", checkProfileCache},
		{"generation", checkGeneration},
	}

	for _, c := range checks {
		start := time.Now()
		status, detail := c.run(ctx, cfg)
		report.Checks = append(report.Checks, CheckResult{
			Name:    c.name,
			Status:  status,
			Detail:  detail,
			Elapsed: time.Since(start).Round(time.Millisecond).String(),
		})
		if status == StatusFail {
			report.Healthy = false
		}
	}

	report.System = CollectSystemMetrics(filepath.Dir(cfg.Store.Path))
	return report
}

func checkConfig(_ context.Context, cfg *config.Config) (CheckStatus, string) {
	if err := config.ValidateConfig(cfg); err != nil {
		return StatusFail, err.Error()
	}
	return StatusOK, "configuration is valid"
}

// checkStore opens the configured backend and round-trips a probe document.
func checkStore(ctx context.Context, cfg *config.Config) (CheckStatus, string) {
	s, err := state.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return StatusFail, err.Error()
	}
	defer s.Close()

	probe := core.Row{"id": "doctor-probe", "at": time.Now().UTC().Format(time.RFC3339)}
	if _, err := s.Upsert(ctx, "diagnostics", []core.Row{probe}); err != nil {
		return StatusFail, fmt.Sprintf("write probe failed: %v", err)
	}
	if _, err := s.Delete(ctx, "diagnostics", core.Filter{"id": "doctor-probe"}); err != nil {
		return StatusWarn, fmt.Sprintf("probe cleanup failed: %v", err)
	}
	return StatusOK, fmt.Sprintf("%s backend at %s", cfg.Store.Backend, cfg.Store.Path)
}

func checkProfileCache(_ context.Context, cfg *config.Config) (CheckStatus, string) {
	if !cfg.Profile.Enabled {
		return StatusOK, "profile builder disabled"
	}
	if err := os.MkdirAll(cfg.Profile.CachePath, 0o750); err != nil {
		return StatusFail, fmt.Sprintf("cache path not writable: %v", err)
	}
	return StatusOK, cfg.Profile.CachePath
}

func checkGeneration(_ context.Context, cfg *config.Config) (CheckStatus, string) {
	switch cfg.Generation.Provider {
	case "", "static":
		return StatusOK, "static provider (offline)"
	case "openai":
		if cfg.Generation.APIKey == "" {
			return StatusFail, "openai provider configured without an api key"
		}
		return StatusOK, fmt.Sprintf("openai provider, model %s", cfg.Generation.Model)
	default:
		return StatusFail, fmt.Sprintf("unknown provider %q", cfg.Generation.Provider)
	}
}
