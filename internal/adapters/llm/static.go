package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/internal/core"
)

// StaticProvider is a deterministic offline backend. It answers every
// request from the prompt and context alone, so a fresh checkout can run
// turns without credentials or network access.
type StaticProvider struct {
	model string
}

var _ core.Generation = (*StaticProvider)(nil)

// NewStaticProvider creates the offline provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{model: "static"}
}

// Complete synthesizes a reply locally.
func (p *StaticProvider) Complete(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return core.GenerationResult{}, core.ErrTimeout("static generation deadline exceeded")
		}
		return core.GenerationResult{}, core.ErrCancelled("static generation cancelled")
	}

	result := core.GenerationResult{
		Model:    p.model,
		TokensIn: len(req.Prompt) / 4,
	}

	if len(req.Schema) > 0 {
		structured, _ := json.Marshal(map[string]string{
			"response": firstLine(req.Prompt),
		})
		result.Structured = structured
		result.Text = string(structured)
		result.TokensOut = len(result.Text) / 4
		return result, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Regarding: %s", firstLine(req.Prompt))
	if req.Context != "" {
		fmt.Fprintf(&sb, "\n\n(considered %d characters of conversation context)", len(req.Context))
	}
	result.Text = sb.String()
	result.TokensOut = len(result.Text) / 4
	return result, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > 120 {
		s = string(runes[:120])
	}
	return s
}
