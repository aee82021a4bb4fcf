package config

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Context    ContextConfig    `mapstructure:"context"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Store      StoreConfig      `mapstructure:"store"`
	Generation GenerationConfig `mapstructure:"generation"`
	Profile    ProfileConfig    `mapstructure:"profile"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level          string   `mapstructure:"level"`
	Format         string   `mapstructure:"format"`
	File           string   `mapstructure:"file"`
	RedactPatterns []string `mapstructure:"redact_patterns"`
}

// EngineConfig configures turn execution.
type EngineConfig struct {
	Mode        string `mapstructure:"mode"`
	StepTimeout string `mapstructure:"step_timeout"`
	TurnTimeout string `mapstructure:"turn_timeout"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// ContextConfig configures conversation context rendering.
type ContextConfig struct {
	MaxTokens       int `mapstructure:"max_tokens"`
	FullDetailTurns int `mapstructure:"full_detail_turns"`
}

// RegistryConfig configures the entity reference registry.
type RegistryConfig struct {
	// EvictAfterTurns counts history records, not exchanges: each user
	// message and each assistant reply advances the turn index by one, so a
	// value of 20 keeps references alive for 10 user/assistant exchanges.
	EvictAfterTurns int `mapstructure:"evict_after_turns"`
}

// StoreConfig configures state persistence.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// GenerationConfig configures the generation backend.
type GenerationConfig struct {
	Provider  string  `mapstructure:"provider"`
	BaseURL   string  `mapstructure:"base_url"`
	Model     string  `mapstructure:"model"`
	APIKey    string  `mapstructure:"api_key"`
	MaxTokens int     `mapstructure:"max_tokens"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// ProfileConfig configures the background profile builder.
type ProfileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Interval   string `mapstructure:"interval"`
	StaleAfter string `mapstructure:"stale_after"`
	CachePath  string `mapstructure:"cache_path"`
}
