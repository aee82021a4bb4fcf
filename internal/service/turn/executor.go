// Package turn implements the step-execution graph: it takes a validated
// turn plan, runs its groups in sequence with bounded intra-group
// parallelism, and assembles the turn result. The scheduler executes plans,
// it never constructs or reorders them.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/control"
	"github.com/parley-ai/parley/internal/conversation"
	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/metrics"
)

// Default execution budgets, overridable through Config.
const (
	DefaultStepTimeout = 60 * time.Second
	DefaultTurnTimeout = 5 * time.Minute
	DefaultMaxRetries  = 1
)

// Config wires the engine's collaborators and policy knobs.
type Config struct {
	Store      core.Storage
	Generation core.Generation
	History    core.ContextManager
	Logger     *logging.Logger
	Metrics    *metrics.Metrics

	// StepTimeout bounds one step attempt; a timed-out attempt fails with a
	// timeout error and is eligible for the transient retry policy.
	StepTimeout time.Duration
	// TurnTimeout bounds the whole turn; hitting it behaves as cancellation.
	TurnTimeout time.Duration
	// MaxRetries is the number of extra attempts for transient failures of
	// read/analyze/generate steps. Writes are never retried.
	MaxRetries int
	// MaxContextTokens is the render budget handed to the context manager.
	MaxContextTokens int
}

// Engine executes turn plans against shared conversational state.
type Engine struct {
	store   core.Storage
	gen     core.Generation
	history core.ContextManager
	logger  *logging.Logger
	metrics *metrics.Metrics
	retry   *RetryPolicy

	stepTimeout      time.Duration
	turnTimeout      time.Duration
	maxContextTokens int
}

// NewEngine creates an engine. Store, Generation and History are required;
// zero policy values select the defaults.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	turnTimeout := cfg.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = conversation.DefaultMaxTokens
	}
	return &Engine{
		store:            cfg.Store,
		gen:              cfg.Generation,
		history:          cfg.History,
		logger:           logger,
		metrics:          cfg.Metrics,
		retry:            StepRetryPolicy(maxRetries),
		stepTimeout:      stepTimeout,
		turnTimeout:      turnTimeout,
		maxContextTokens: maxTokens,
	}
}

// Request is one turn execution request. Session, Plan, Mode and Registry
// are required; Control and Notifier are optional.
type Request struct {
	Session     *core.SessionState
	Plan        core.TurnPlan
	Mode        core.ModeContext
	Registry    core.ReferenceRegistry
	Control     *control.Plane
	Notifier    core.Notifier
	UserMessage string
}

// Execute runs one turn: render bounded context, execute the plan's groups
// in order, assemble summaries in plan declaration order, compose the reply
// and fold the exchange into history. It always returns a result; errors
// surface as the result's status and error fields.
func (e *Engine) Execute(ctx context.Context, req Request) core.TurnResult {
	started := time.Now()
	turnID := uuid.NewString()
	logger := e.logger.WithSession(req.Session.ID).WithTurn(turnID)

	res := core.TurnResult{
		TurnID:    turnID,
		SessionID: req.Session.ID,
		Status:    core.TurnStatusRunning,
		Mode:      req.Mode,
		StartedAt: started,
	}

	if err := req.Plan.Validate(); err != nil {
		logger.Error("plan rejected", "error", err)
		res.Status = core.TurnStatusFailed
		res.Error = err.Error()
		res.CompletedAt = time.Now()
		return res
	}

	notifier := req.Notifier
	if notifier == nil {
		notifier = core.NopNotifier{}
	}

	block := e.history.Render(e.maxContextTokens, req.Mode)
	if e.metrics != nil {
		if block.EvictedEntries > 0 {
			e.metrics.ContextEvictions.Add(float64(block.EvictedEntries))
		}
		if block.Truncated {
			e.metrics.ContextTruncations.Inc()
		}
	}

	tctx := newContext(req.Session.ID, turnID, req.Session.TurnCount+1, req.Mode,
		block, req.Registry, logger, notifier)

	steps, order := buildSteps(req.Plan)
	notifier.TurnStarted(req.Session.ID, turnID, len(req.Plan.Groups), len(order))
	logger.Info("turn started",
		"groups", len(req.Plan.Groups),
		"steps", len(order),
		"mode", req.Mode.Mode,
		"context_tokens", block.EstimatedTokens,
	)

	// The turn deadline behaves as cancellation: running steps drain, no
	// further groups dispatch.
	runCtx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	status, turnErr := e.runGroups(runCtx, tctx, req, steps)

	res.Summaries = make([]core.StepSummary, 0, len(order))
	for _, id := range order {
		res.Summaries = append(res.Summaries, steps[id].Summary())
	}
	res.Status = status
	if turnErr != nil {
		res.Error = turnErr.Error()
	}
	res.Reply = composeReply(res, req.Mode.Verbosity)
	res.CompletedAt = time.Now()

	e.foldIntoHistory(req, res)
	e.record(res)
	notifier.TurnFinished(res)
	logger.Info("turn finished",
		"status", res.Status,
		"steps", len(res.Summaries),
		"duration_ms", res.CompletedAt.Sub(res.StartedAt).Milliseconds(),
	)
	return res
}

// buildSteps materializes runtime steps from the plan, keyed by id, plus the
// plan declaration order.
func buildSteps(plan core.TurnPlan) (map[core.StepID]*core.Step, []core.StepID) {
	steps := make(map[core.StepID]*core.Step, plan.TotalSteps())
	order := make([]core.StepID, 0, plan.TotalSteps())
	for _, group := range plan.Groups {
		for _, spec := range group.Steps {
			s := core.NewStep(spec)
			s.GroupID = group.ID
			steps[s.ID] = s
			order = append(order, s.ID)
		}
	}
	return steps, order
}

// runGroups executes the plan's groups strictly in sequence and returns the
// turn's terminal status.
func (e *Engine) runGroups(ctx context.Context, tctx *Context, req Request, steps map[core.StepID]*core.Step) (core.TurnStatus, error) {
	statuses := func() map[core.StepID]core.StepStatus {
		m := make(map[core.StepID]core.StepStatus, len(steps))
		for id, s := range steps {
			m[id] = s.Status
		}
		return m
	}

	for gi, group := range req.Plan.Groups {
		// Cancellation and the turn deadline are observed between groups:
		// dispatched steps are non-preemptible units.
		if req.Control != nil {
			if err := req.Control.WaitIfPaused(ctx); err != nil {
				if core.IsCategory(err, core.ErrCatCancelled) {
					return core.TurnStatusCancelled, err
				}
				return core.TurnStatusCancelled, core.ErrCancelled("turn deadline reached").WithCause(err)
			}
		}
		if err := ctx.Err(); err != nil {
			return core.TurnStatusCancelled, core.ErrCancelled("turn deadline reached").WithCause(err)
		}

		// Dependency gate first: a step whose dependency did not succeed
		// transitions straight to skipped, in declared order.
		snapshot := statuses()
		runnable := make([]*core.Step, 0, len(group.Steps))
		for _, spec := range group.Steps {
			s := steps[spec.ID]
			if dep, blocked := s.BlockedBy(snapshot); blocked {
				_ = s.MarkSkipped(fmt.Sprintf("dependency %s did not succeed", dep))
				tctx.Notifier.StepFinished(s.Summary())
				tctx.Logger.Info("step skipped", "step_id", s.ID, "blocked_by", dep)
				continue
			}
			runnable = append(runnable, s)
		}

		if len(runnable) > 0 {
			tctx.Logger.Info("dispatching group",
				"group", group.ID,
				"group_index", gi,
				"steps", len(runnable),
				"max_parallel", req.Mode.MaxParallelSteps,
			)

			g := new(errgroup.Group)
			if req.Mode.MaxParallelSteps > 0 {
				g.SetLimit(req.Mode.MaxParallelSteps)
			}
			for _, s := range runnable {
				s := s
				// Go blocks while the ceiling is reached, so dispatch follows
				// plan declared order as slots free.
				g.Go(func() error {
					return e.runStep(ctx, tctx, s)
				})
			}
			if err := g.Wait(); err != nil {
				// Only turn-fatal errors propagate here; contained step
				// failures are recorded on the step itself.
				if core.IsCategory(err, core.ErrCatStore) {
					return core.TurnStatusFailed, err
				}
				return core.TurnStatusFailed, core.ErrInternal("group execution failed").WithCause(err)
			}
		}

		tctx.publishGroup(runnable)
	}

	return core.TurnStatusCompleted, nil
}

// runStep drives one step through its lifecycle. Step-level failures are
// contained: the returned error is non-nil only for turn-fatal conditions
// (storage unavailability).
func (e *Engine) runStep(ctx context.Context, tctx *Context, s *core.Step) error {
	if err := s.MarkRunning(); err != nil {
		return err
	}
	tctx.Notifier.StepStarted(s.ID, s.Kind)
	if e.metrics != nil {
		e.metrics.StepsInFlight.Inc()
	}
	logger := tctx.Logger.WithStep(string(s.ID))
	logger.Debug("step started", "kind", s.Kind, "group", s.GroupID)

	var out *core.StepOutput
	attempt := func(actx context.Context) error {
		s.Attempts++
		result, err := e.executeStep(actx, tctx, s)
		if err != nil {
			return err
		}
		out = result
		return nil
	}

	var err error
	if s.Retryable() {
		err = e.retry.ExecuteWithNotify(context.WithoutCancel(ctx),
			func(c context.Context) error { return e.withStepTimeout(c, attempt) },
			func(n int, retryErr error, delay time.Duration) {
				if e.metrics != nil {
					e.metrics.StepRetriesTotal.Inc()
				}
				logger.Warn("step retry",
					"attempt", n,
					"delay_ms", delay.Milliseconds(),
					"error", retryErr,
				)
			})
	} else {
		// Writes get exactly one attempt: the storage batch is atomic, so a
		// failed write leaves no partial mutation, and re-issuing it could
		// double-apply.
		err = e.withStepTimeout(context.WithoutCancel(ctx), attempt)
	}

	if e.metrics != nil {
		e.metrics.StepsInFlight.Dec()
	}

	if err != nil {
		_ = s.MarkFailed(err)
		logger.Error("step failed",
			"kind", s.Kind,
			"attempts", s.Attempts,
			"category", s.ErrCategory,
			"error", err,
		)
	} else {
		_ = s.MarkSucceeded(out)
		logger.Debug("step succeeded", "kind", s.Kind, "attempts", s.Attempts)
	}

	sum := s.Summary()
	tctx.Notifier.StepFinished(sum)
	if e.metrics != nil {
		e.metrics.StepsTotal.WithLabelValues(string(s.Kind), string(s.Status)).Inc()
		e.metrics.StepDuration.WithLabelValues(string(s.Kind)).Observe(sum.Duration.Seconds())
	}

	// Store unavailability fails the whole turn, not just the step.
	if err != nil && core.IsCategory(err, core.ErrCatStore) {
		return err
	}
	return nil
}

// withStepTimeout runs one attempt under the per-step timeout, mapping the
// deadline to a retry-eligible timeout error.
func (e *Engine) withStepTimeout(ctx context.Context, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	err := fn(actx)
	if err != nil && actx.Err() == context.DeadlineExceeded {
		return core.ErrTimeout(fmt.Sprintf("step exceeded %s", e.stepTimeout)).WithCause(err)
	}
	return err
}

// foldIntoHistory appends the exchange to the conversation history: the user
// message (when present) and the assistant reply, in completion order.
func (e *Engine) foldIntoHistory(req Request, res core.TurnResult) {
	now := time.Now()
	if req.UserMessage != "" {
		e.history.Append(core.ConversationTurn{
			Index:     req.Session.NextTurnIndex(),
			Role:      core.RoleUser,
			Text:      req.UserMessage,
			Timestamp: now,
		})
	}
	e.history.Append(core.ConversationTurn{
		Index:     req.Session.NextTurnIndex(),
		Role:      core.RoleAssistant,
		Text:      res.Reply,
		Timestamp: now,
	})
	req.Session.UpdatedAt = now
}

func (e *Engine) record(res core.TurnResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.TurnsTotal.WithLabelValues(string(res.Status)).Inc()
}
