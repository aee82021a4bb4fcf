// Package llm provides generation backends behind the Generation port: an
// OpenAI-compatible HTTP client and a deterministic offline provider.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/logging"
)

// OpenAIOptions configures the OpenAI-compatible provider. BaseURL may point
// at any compatible endpoint (local inference servers included).
type OpenAIOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	// RateLimit is client-side requests per second; zero disables limiting.
	RateLimit float64
	Logger    *logging.Logger
}

// OpenAIProvider implements core.Generation against the chat completions API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
	limiter   *rate.Limiter
	logger    *logging.Logger
}

var _ core.Generation = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "openai provider requires an api key")
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: opts.MaxTokens,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Complete performs one chat completion. Transient backend conditions come
// back as rate_limit, timeout or network domain errors so the scheduler's
// retry policy can tell them from permanent failures.
func (p *OpenAIProvider) Complete(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return core.GenerationResult{}, mapCtxErr(ctx, err)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 3)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Context,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	} else if p.maxTokens > 0 {
		chatReq.MaxCompletionTokens = p.maxTokens
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		p.logger.Debug("chat completion failed", "model", p.model, "error", err)
		return core.GenerationResult{}, mapAPIErr(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return core.GenerationResult{}, core.ErrInvalidResponse("backend returned no choices")
	}

	content := resp.Choices[0].Message.Content
	result := core.GenerationResult{
		Text:      content,
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if len(req.Schema) > 0 {
		if !json.Valid([]byte(content)) {
			return core.GenerationResult{}, core.ErrInvalidResponse("backend output is not valid JSON")
		}
		result.Structured = json.RawMessage(content)
	}
	return result, nil
}

// mapAPIErr classifies a transport or API failure into a domain error.
func mapAPIErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return mapCtxErr(ctx, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return core.ErrRateLimit("backend rate limited").WithCause(err)
		case apiErr.HTTPStatusCode >= 500:
			return core.ErrNetwork("backend unavailable").WithCause(err)
		default:
			return core.ErrInvalidResponse("backend rejected the request").WithCause(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.ErrTimeout("backend request timed out").WithCause(err)
		}
		return core.ErrNetwork("backend unreachable").WithCause(err)
	}
	return core.ErrNetwork("backend call failed").WithCause(err)
}

func mapCtxErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout("backend request deadline exceeded").WithCause(err)
	}
	return core.ErrCancelled("backend request cancelled").WithCause(err)
}
