package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-ai/parley/internal/core"
)

// GenResponse is one scripted backend response.
type GenResponse struct {
	Result core.GenerationResult
	Err    error
}

// FakeGeneration is a scripted core.Generation. Responses play back in
// order; once the script runs out, every call echoes the prompt. All calls
// are recorded for assertions.
type FakeGeneration struct {
	mu       sync.Mutex
	script   []GenResponse
	requests []core.GenerationRequest
}

var _ core.Generation = (*FakeGeneration)(nil)

// NewFakeGeneration creates a backend with an optional script.
func NewFakeGeneration(script ...GenResponse) *FakeGeneration {
	return &FakeGeneration{script: script}
}

// Enqueue appends responses to the script.
func (f *FakeGeneration) Enqueue(resp ...GenResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, resp...)
}

// Complete plays back the next scripted response.
func (f *FakeGeneration) Complete(_ context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if len(f.script) > 0 {
		next := f.script[0]
		f.script = f.script[1:]
		return next.Result, next.Err
	}
	return core.GenerationResult{
		Text:  fmt.Sprintf("echo: %s", req.Prompt),
		Model: "fake",
	}, nil
}

// Calls returns how many times Complete was invoked.
func (f *FakeGeneration) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of the recorded requests.
func (f *FakeGeneration) Requests() []core.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.GenerationRequest, len(f.requests))
	copy(out, f.requests)
	return out
}
