package testutil

import (
	"sync"

	"github.com/parley-ai/parley/internal/core"
)

// CaptureNotifier records every progress callback. Safe for concurrent use,
// as the scheduler fires step callbacks from sibling goroutines.
type CaptureNotifier struct {
	mu        sync.Mutex
	started   []core.StepID
	finished  []core.StepSummary
	turnDone  []core.TurnResult
	turnStart int
}

var _ core.Notifier = (*CaptureNotifier)(nil)

// NewCaptureNotifier creates an empty notifier.
func NewCaptureNotifier() *CaptureNotifier {
	return &CaptureNotifier{}
}

func (c *CaptureNotifier) TurnStarted(string, string, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnStart++
}

func (c *CaptureNotifier) StepStarted(stepID core.StepID, _ core.StepKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, stepID)
}

func (c *CaptureNotifier) StepFinished(sum core.StepSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, sum)
}

func (c *CaptureNotifier) TurnFinished(res core.TurnResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnDone = append(c.turnDone, res)
}

// Started returns the step ids that entered running state, in firing order.
func (c *CaptureNotifier) Started() []core.StepID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.StepID, len(c.started))
	copy(out, c.started)
	return out
}

// Finished returns the recorded step summaries in firing order.
func (c *CaptureNotifier) Finished() []core.StepSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.StepSummary, len(c.finished))
	copy(out, c.finished)
	return out
}

// TurnResults returns the recorded final results.
func (c *CaptureNotifier) TurnResults() []core.TurnResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.TurnResult, len(c.turnDone))
	copy(out, c.turnDone)
	return out
}

// TurnStarts returns how many turns were announced.
func (c *CaptureNotifier) TurnStarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnStart
}
