package llm

import (
	"fmt"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/logging"
)

// New creates the generation backend selected by configuration.
func New(cfg config.GenerationConfig, logger *logging.Logger) (core.Generation, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticProvider(), nil
	case "openai":
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			RateLimit: cfg.RateLimit,
			Logger:    logger,
		})
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown generation provider %q", cfg.Provider))
	}
}
