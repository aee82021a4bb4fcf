package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateEngine(&cfg.Engine)
	v.validateContext(&cfg.Context)
	v.validateRegistry(&cfg.Registry)
	v.validateStore(&cfg.Store)
	v.validateGeneration(&cfg.Generation)
	v.validateProfile(&cfg.Profile)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	if !core.ValidMode(core.Mode(cfg.Mode)) {
		v.addError("engine.mode", cfg.Mode, "must be one of: concise, standard, thorough")
	}

	if d, err := time.ParseDuration(cfg.StepTimeout); err != nil {
		v.addError("engine.step_timeout", cfg.StepTimeout, "invalid duration format")
	} else if d <= 0 {
		v.addError("engine.step_timeout", cfg.StepTimeout, "must be positive")
	}

	if d, err := time.ParseDuration(cfg.TurnTimeout); err != nil {
		v.addError("engine.turn_timeout", cfg.TurnTimeout, "invalid duration format")
	} else if d <= 0 {
		v.addError("engine.turn_timeout", cfg.TurnTimeout, "must be positive")
	}

	if cfg.MaxRetries < 0 || cfg.MaxRetries > 5 {
		v.addError("engine.max_retries", cfg.MaxRetries, "must be between 0 and 5")
	}
}

func (v *Validator) validateContext(cfg *ContextConfig) {
	if cfg.MaxTokens <= 0 {
		v.addError("context.max_tokens", cfg.MaxTokens, "must be positive")
	}

	if cfg.FullDetailTurns <= 0 || cfg.FullDetailTurns > 100 {
		v.addError("context.full_detail_turns", cfg.FullDetailTurns, "must be between 1 and 100")
	}
}

func (v *Validator) validateRegistry(cfg *RegistryConfig) {
	if cfg.EvictAfterTurns <= 0 {
		v.addError("registry.evict_after_turns", cfg.EvictAfterTurns, "must be positive")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	validBackends := map[string]bool{
		"sqlite": true, "json": true,
	}
	if !validBackends[cfg.Backend] {
		v.addError("store.backend", cfg.Backend, "must be one of: sqlite, json")
	}

	if cfg.Path == "" {
		v.addError("store.path", cfg.Path, "path required")
	}
}

func (v *Validator) validateGeneration(cfg *GenerationConfig) {
	validProviders := map[string]bool{
		"static": true, "openai": true,
	}
	if !validProviders[cfg.Provider] {
		v.addError("generation.provider", cfg.Provider, "must be one of: static, openai")
	}

	if cfg.Provider == "openai" && strings.TrimSpace(cfg.Model) == "" {
		v.addError("generation.model", cfg.Model, "model required for openai provider")
	}

	if cfg.MaxTokens < 0 || cfg.MaxTokens > 200000 {
		v.addError("generation.max_tokens", cfg.MaxTokens, "must be between 0 and 200000")
	}

	if cfg.RateLimit < 0 {
		v.addError("generation.rate_limit", cfg.RateLimit, "must be non-negative")
	}
}

func (v *Validator) validateProfile(cfg *ProfileConfig) {
	if d, err := time.ParseDuration(cfg.Interval); err != nil {
		v.addError("profile.interval", cfg.Interval, "invalid duration format")
	} else if cfg.Enabled && d <= 0 {
		v.addError("profile.interval", cfg.Interval, "must be positive when enabled")
	}

	if _, err := time.ParseDuration(cfg.StaleAfter); err != nil {
		v.addError("profile.stale_after", cfg.StaleAfter, "invalid duration format")
	}

	if cfg.Enabled && cfg.CachePath == "" {
		v.addError("profile.cache_path", cfg.CachePath, "path required when enabled")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// DurationOr parses s as a duration, returning def when s is empty or invalid.
// Validation reports malformed durations; consumers use this to read them.
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
