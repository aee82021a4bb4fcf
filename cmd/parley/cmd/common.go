package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/parley-ai/parley/internal/adapters/llm"
	"github.com/parley-ai/parley/internal/adapters/profilecache"
	"github.com/parley-ai/parley/internal/adapters/state"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/metrics"
	"github.com/parley-ai/parley/internal/service"
)

const eventBusBuffer = 100

// runtime bundles everything a command needs to execute turns.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   state.Store
	gen     core.Generation
	cache   core.ProfileCache
	bus     *events.EventBus
	metrics *metrics.Metrics
	svc     *service.SessionService
}

// loadConfig loads and validates configuration using the global viper,
// which carries the CLI flag bindings.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// initRuntime loads config and constructs the adapter set plus the session
// service on top of it. Callers must Close the returned runtime.
func initRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:          cfg.Log.Level,
		Format:         cfg.Log.Format,
		RedactPatterns: cfg.Log.RedactPatterns,
	})

	store, err := state.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gen, err := llm.New(cfg.Generation, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating generation provider: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		gen:     gen,
		bus:     events.New(eventBusBuffer),
		metrics: metrics.New(),
	}

	if cfg.Profile.Enabled {
		cache, err := profilecache.NewBadgerCache(cfg.Profile.CachePath, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("opening profile cache: %w", err)
		}
		rt.cache = cache
	} else {
		rt.cache = profilecache.NewMemoryCache()
	}

	settings, err := settingsFromConfig(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.svc = service.NewSessionService(service.Config{
		Store:      store,
		Generation: gen,
		Cache:      rt.cache,
		Bus:        rt.bus,
		Logger:     logger,
		Metrics:    rt.metrics,
		Settings:   settings,
	})
	return rt, nil
}

func (r *runtime) Close() {
	if r.bus != nil {
		r.bus.Close()
	}
	if r.cache != nil {
		_ = r.cache.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}

// settingsFromConfig translates the duration strings from configuration
// into engine settings.
func settingsFromConfig(cfg *config.Config) (service.Settings, error) {
	stepTimeout, err := parseDurationDefault(cfg.Engine.StepTimeout, 60*time.Second)
	if err != nil {
		return service.Settings{}, fmt.Errorf("parsing engine.step_timeout %q: %w", cfg.Engine.StepTimeout, err)
	}
	turnTimeout, err := parseDurationDefault(cfg.Engine.TurnTimeout, 5*time.Minute)
	if err != nil {
		return service.Settings{}, fmt.Errorf("parsing engine.turn_timeout %q: %w", cfg.Engine.TurnTimeout, err)
	}
	staleAfter, err := parseDurationDefault(cfg.Profile.StaleAfter, 24*time.Hour)
	if err != nil {
		return service.Settings{}, fmt.Errorf("parsing profile.stale_after %q: %w", cfg.Profile.StaleAfter, err)
	}

	return service.Settings{
		StepTimeout:       stepTimeout,
		TurnTimeout:       turnTimeout,
		MaxRetries:        cfg.Engine.MaxRetries,
		MaxContextTokens:  cfg.Context.MaxTokens,
		FullDetailTurns:   cfg.Context.FullDetailTurns,
		EvictAfterTurns:   cfg.Registry.EvictAfterTurns,
		ProfileStaleAfter: staleAfter,
	}, nil
}

// defaultMode returns the configured mode as an override, or empty when it
// matches the built-in default so session preferences win.
func defaultMode(cfg *config.Config) core.Mode {
	mode := core.Mode(strings.ToLower(cfg.Engine.Mode))
	if !core.ValidMode(mode) {
		return ""
	}
	return mode
}

func parseDurationDefault(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// OutputJSON writes the given value to stdout as indented JSON.
func OutputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
