package turn

import (
	"sync"

	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/logging"
)

// Context carries everything a dispatched step may consume: the rendered
// context block, the session's reference registry, and the outputs of steps
// from strictly earlier groups. Outputs of the running group become visible
// only after the whole group settles, so same-group siblings can never
// observe each other.
type Context struct {
	SessionID string
	TurnID    string
	TurnIndex int
	Mode      core.ModeContext
	Block     core.ContextBlock
	Registry  core.ReferenceRegistry
	Logger    *logging.Logger
	Notifier  core.Notifier

	mu      sync.RWMutex
	outputs map[core.StepID]*core.StepOutput
}

func newContext(sessionID, turnID string, turnIndex int, mode core.ModeContext,
	block core.ContextBlock, reg core.ReferenceRegistry, logger *logging.Logger, notifier core.Notifier) *Context {
	if notifier == nil {
		notifier = core.NopNotifier{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Context{
		SessionID: sessionID,
		TurnID:    turnID,
		TurnIndex: turnIndex,
		Mode:      mode,
		Block:     block,
		Registry:  reg,
		Logger:    logger,
		Notifier:  notifier,
		outputs:   make(map[core.StepID]*core.StepOutput),
	}
}

// EarlierOutput returns the output of a step from an earlier group, if that
// step succeeded and produced one.
func (c *Context) EarlierOutput(id core.StepID) (*core.StepOutput, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[id]
	return out, ok
}

// EarlierOutputs returns the ids of all published earlier-group outputs in
// unspecified order.
func (c *Context) EarlierOutputs() []core.StepID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]core.StepID, 0, len(c.outputs))
	for id := range c.outputs {
		ids = append(ids, id)
	}
	return ids
}

// publishGroup makes the settled group's outputs visible to later groups.
// Called by the scheduler at the group boundary, never by steps.
func (c *Context) publishGroup(steps []*core.Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range steps {
		if s.IsSuccess() && s.Output != nil {
			c.outputs[s.ID] = s.Output
		}
	}
}
