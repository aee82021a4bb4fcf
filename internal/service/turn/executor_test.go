package turn

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/parley-ai/parley/internal/control"
	"github.com/parley-ai/parley/internal/conversation"
	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/registry"
	"github.com/parley-ai/parley/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// genFunc adapts a function to core.Generation for concurrency probes.
type genFunc func(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error)

func (f genFunc) Complete(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
	return f(ctx, req)
}

func standardMode() core.ModeContext {
	return core.ResolveMode(core.SessionPreferences{Mode: core.ModeStandard}, "")
}

func genSpec(id core.StepID, prompt string, deps ...core.StepID) core.StepSpec {
	return core.StepSpec{
		ID:        id,
		Kind:      core.StepKindGenerate,
		DependsOn: deps,
		Inputs:    core.StepInputs{Generate: &core.GenerateInputs{Prompt: prompt}},
	}
}

func newTestEngine(t *testing.T, store core.Storage, gen core.Generation, opts ...func(*Config)) (*Engine, *conversation.Manager) {
	t.Helper()
	history := conversation.New(0)
	cfg := Config{
		Store:      store,
		Generation: gen,
		History:    history,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewEngine(cfg), history
}

func execute(t *testing.T, e *Engine, plan core.TurnPlan, opts ...func(*Request)) core.TurnResult {
	t.Helper()
	req := Request{
		Session:     core.NewSessionState("user-1"),
		Plan:        plan,
		Mode:        standardMode(),
		Registry:    registry.New(0),
		UserMessage: "hello",
	}
	for _, opt := range opts {
		opt(&req)
	}
	return e.Execute(context.Background(), req)
}

func TestEngine_HappyPath(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed("notes", core.Row{"id": "n1", "topic": "dinner"})
	gen := testutil.NewFakeGeneration(testutil.GenResponse{
		Result: core.GenerationResult{Text: "Pasta sounds good tonight."},
	})
	e, history := newTestEngine(t, store, gen)

	plan := core.TurnPlan{Groups: []core.StepGroup{
		{ID: "g1", Steps: []core.StepSpec{
			{ID: "fetch", Kind: core.StepKindRead, Inputs: core.StepInputs{
				Read: &core.ReadInputs{Collection: "notes", RefKind: "note"},
			}},
		}},
		{ID: "g2", Steps: []core.StepSpec{
			{ID: "think", Kind: core.StepKindAnalyze, Inputs: core.StepInputs{
				Analyze: &core.AnalyzeInputs{Focus: "dinner"},
			}},
		}},
		{ID: "g3", Steps: []core.StepSpec{
			genSpec("answer", "what should we eat?"),
		}},
		{ID: "g4", Steps: []core.StepSpec{
			{ID: "save", Kind: core.StepKindWrite, Inputs: core.StepInputs{
				Write: &core.WriteInputs{Collection: "notes", Rows: []core.Row{{"topic": "pasta"}}},
			}},
		}},
	}}

	reg := registry.New(0)
	res := execute(t, e, plan, func(r *Request) { r.Registry = reg })

	if res.Status != core.TurnStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Error)
	}
	wantOrder := []core.StepID{"fetch", "think", "answer", "save"}
	if len(res.Summaries) != len(wantOrder) {
		t.Fatalf("expected %d summaries, got %d", len(wantOrder), len(res.Summaries))
	}
	for i, id := range wantOrder {
		if res.Summaries[i].StepID != id {
			t.Errorf("summary %d: expected %s, got %s", i, id, res.Summaries[i].StepID)
		}
		if res.Summaries[i].Status != core.StepStatusSucceeded {
			t.Errorf("step %s: expected succeeded, got %s", id, res.Summaries[i].Status)
		}
	}

	if !strings.Contains(res.Reply, "Pasta sounds good") {
		t.Errorf("reply should carry the generated answer, got %q", res.Reply)
	}
	if reg.Len() != 1 {
		t.Errorf("read step should have registered 1 ref, got %d", reg.Len())
	}
	if store.Count("notes") != 2 {
		t.Errorf("write step should have added a row, got %d", store.Count("notes"))
	}
	// The exchange is folded into history: user turn plus assistant turn.
	if history.Len() != 2 {
		t.Errorf("expected 2 history turns, got %d", history.Len())
	}
}

func TestEngine_DependencySkip(t *testing.T) {
	gen := testutil.NewFakeGeneration(
		testutil.GenResponse{Err: core.ErrInvalidResponse("malformed output")}, // step a, not retried
		testutil.GenResponse{Result: core.GenerationResult{Text: "b fine"}},    // step b
	)
	e, _ := newTestEngine(t, testutil.NewMemStore(), gen)

	plan := core.TurnPlan{Groups: []core.StepGroup{
		{ID: "g1", Steps: []core.StepSpec{genSpec("a", "a"), genSpec("b", "b")}},
		{ID: "g2", Steps: []core.StepSpec{genSpec("c", "c", "a")}},
	}}

	// Serialize the first group so the scripted responses map a->first.
	mode := standardMode()
	mode.MaxParallelSteps = 1
	res := execute(t, e, plan, func(r *Request) { r.Mode = mode })

	if res.Status != core.TurnStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Error)
	}

	byID := make(map[core.StepID]core.StepSummary)
	for _, sum := range res.Summaries {
		byID[sum.StepID] = sum
	}
	if byID["a"].Status != core.StepStatusFailed {
		t.Errorf("a: expected failed, got %s", byID["a"].Status)
	}
	if byID["a"].Attempts != 1 {
		t.Errorf("a: validation failures must not be retried, got %d attempts", byID["a"].Attempts)
	}
	if byID["b"].Status != core.StepStatusSucceeded {
		t.Errorf("b: expected succeeded independently, got %s", byID["b"].Status)
	}
	if byID["c"].Status != core.StepStatusSkipped {
		t.Errorf("c: expected skipped, got %s", byID["c"].Status)
	}
	if gen.Calls() != 2 {
		t.Errorf("c must not dispatch, expected 2 backend calls, got %d", gen.Calls())
	}
	if !strings.Contains(res.Reply, "failed") || !strings.Contains(res.Reply, "skipped") {
		t.Errorf("reply should note the failed and skipped steps, got %q", res.Reply)
	}
}

func TestEngine_ConcurrencyCeiling(t *testing.T) {
	var running, peak int64
	gen := genFunc(func(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
		cur := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return core.GenerationResult{Text: "ok"}, nil
	})
	e, _ := newTestEngine(t, testutil.NewMemStore(), gen)

	specs := make([]core.StepSpec, 0, 5)
	for _, id := range []core.StepID{"s1", "s2", "s3", "s4", "s5"} {
		specs = append(specs, genSpec(id, string(id)))
	}
	plan := core.TurnPlan{Groups: []core.StepGroup{{ID: "g1", Steps: specs}}}

	mode := standardMode()
	mode.MaxParallelSteps = 2
	res := execute(t, e, plan, func(r *Request) { r.Mode = mode })

	if res.Status != core.TurnStatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Errorf("concurrency ceiling violated: %d steps ran simultaneously", got)
	}
}

func TestEngine_RateLimitedRetriesOnce(t *testing.T) {
	t.Run("second attempt succeeds", func(t *testing.T) {
		gen := testutil.NewFakeGeneration(
			testutil.GenResponse{Err: core.ErrRateLimit("slow down")},
			testutil.GenResponse{Result: core.GenerationResult{Text: "recovered"}},
		)
		e, _ := newTestEngine(t, testutil.NewMemStore(), gen)
		plan := core.TurnPlan{Groups: []core.StepGroup{{ID: "g1", Steps: []core.StepSpec{genSpec("gen", "hi")}}}}

		res := execute(t, e, plan)
		if res.Status != core.TurnStatusCompleted {
			t.Fatalf("expected completed, got %s", res.Status)
		}
		if res.Summaries[0].Status != core.StepStatusSucceeded {
			t.Errorf("expected succeeded after retry, got %s", res.Summaries[0].Status)
		}
		if res.Summaries[0].Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", res.Summaries[0].Attempts)
		}
		if gen.Calls() != 2 {
			t.Errorf("expected 2 backend calls, got %d", gen.Calls())
		}
	})

	t.Run("exactly one retry before failing", func(t *testing.T) {
		gen := testutil.NewFakeGeneration(
			testutil.GenResponse{Err: core.ErrRateLimit("slow down")},
			testutil.GenResponse{Err: core.ErrRateLimit("still limited")},
			testutil.GenResponse{Result: core.GenerationResult{Text: "never reached"}},
		)
		e, _ := newTestEngine(t, testutil.NewMemStore(), gen)
		plan := core.TurnPlan{Groups: []core.StepGroup{{ID: "g1", Steps: []core.StepSpec{genSpec("gen", "hi")}}}}

		res := execute(t, e, plan)
		if res.Summaries[0].Status != core.StepStatusFailed {
			t.Fatalf("expected failed, got %s", res.Summaries[0].Status)
		}
		if res.Summaries[0].Attempts != 2 {
			t.Errorf("expected exactly 2 attempts (1 retry), got %d", res.Summaries[0].Attempts)
		}
		if res.Summaries[0].ErrCategory != core.ErrCatRateLimit {
			t.Errorf("expected rate_limit category, got %s", res.Summaries[0].ErrCategory)
		}
		if gen.Calls() != 2 {
			t.Errorf("expected 2 backend calls, got %d", gen.Calls())
		}
	})
}

func TestEngine_WriteFailureLeavesStoreUnchanged(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed("notes", core.Row{"id": "n1", "topic": "before"})
	store.FailUpserts(core.ErrInternal("disk full"))

	gen := testutil.NewFakeGeneration(testutil.GenResponse{
		Result: core.GenerationResult{Text: "still here"},
	})
	e, _ := newTestEngine(t, store, gen)

	plan := core.TurnPlan{Groups: []core.StepGroup{
		{ID: "g1", Steps: []core.StepSpec{
			{ID: "save", Kind: core.StepKindWrite, Inputs: core.StepInputs{
				Write: &core.WriteInputs{Collection: "notes", Rows: []core.Row{{"topic": "after"}}},
			}},
		}},
		{ID: "g2", Steps: []core.StepSpec{genSpec("answer", "carry on")}},
	}}

	res := execute(t, e, plan)

	// A failed write is contained: later groups still execute.
	if res.Status != core.TurnStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Error)
	}
	if res.Summaries[0].Status != core.StepStatusFailed {
		t.Errorf("write: expected failed, got %s", res.Summaries[0].Status)
	}
	if res.Summaries[0].Attempts != 1 {
		t.Errorf("writes are never retried, got %d attempts", res.Summaries[0].Attempts)
	}
	if res.Summaries[1].Status != core.StepStatusSucceeded {
		t.Errorf("later group should run, got %s", res.Summaries[1].Status)
	}

	// No partial mutation is visible.
	if store.Count("notes") != 1 {
		t.Errorf("store should be unchanged, got %d rows", store.Count("notes"))
	}
	if row, ok := store.Get("notes", "n1"); !ok || row["topic"] != "before" {
		t.Errorf("existing row should be untouched, got %v", row)
	}
}

func TestEngine_StoreUnavailableFailsTurn(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailSelects(core.ErrStoreUnavailable("connection refused"))
	e, _ := newTestEngine(t, store, testutil.NewFakeGeneration())

	plan := core.TurnPlan{Groups: []core.StepGroup{
		{ID: "g1", Steps: []core.StepSpec{
			{ID: "fetch", Kind: core.StepKindRead, Inputs: core.StepInputs{
				Read: &core.ReadInputs{Collection: "notes"},
			}},
		}},
		{ID: "g2", Steps: []core.StepSpec{genSpec("answer", "hi")}},
	}}

	res := execute(t, e, plan)
	if res.Status != core.TurnStatusFailed {
		t.Fatalf("expected failed turn, got %s", res.Status)
	}

	byID := make(map[core.StepID]core.StepSummary)
	for _, sum := range res.Summaries {
		byID[sum.StepID] = sum
	}
	if byID["fetch"].Status != core.StepStatusFailed {
		t.Errorf("fetch: expected failed, got %s", byID["fetch"].Status)
	}
	// Remaining groups are aborted, not dispatched.
	if byID["answer"].Status != core.StepStatusPending {
		t.Errorf("answer: expected pending (never dispatched), got %s", byID["answer"].Status)
	}
	if !strings.Contains(res.Reply, "could not complete") {
		t.Errorf("reply should explain the turn failure, got %q", res.Reply)
	}
}

func TestEngine_CancellationStopsFurtherGroups(t *testing.T) {
	plane := control.New()

	firstStepDone := make(chan struct{})
	gen := genFunc(func(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
		// Cancel mid-step: the running step must still finish.
		plane.Cancel("user hit escape")
		close(firstStepDone)
		return core.GenerationResult{Text: "finished anyway"}, nil
	})
	e, _ := newTestEngine(t, testutil.NewMemStore(), gen)

	plan := core.TurnPlan{Groups: []core.StepGroup{
		{ID: "g1", Steps: []core.StepSpec{genSpec("first", "one")}},
		{ID: "g2", Steps: []core.StepSpec{genSpec("second", "two")}},
	}}

	res := execute(t, e, plan, func(r *Request) { r.Control = plane })

	select {
	case <-firstStepDone:
	default:
		t.Fatal("first step should have run")
	}
	if res.Status != core.TurnStatusCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}

	byID := make(map[core.StepID]core.StepSummary)
	for _, sum := range res.Summaries {
		byID[sum.StepID] = sum
	}
	// The dispatched step drained to its terminal state; the next group
	// never started.
	if byID["first"].Status != core.StepStatusSucceeded {
		t.Errorf("first: expected succeeded, got %s", byID["first"].Status)
	}
	if byID["second"].Status != core.StepStatusPending {
		t.Errorf("second: expected pending, got %s", byID["second"].Status)
	}
	if !strings.Contains(res.Reply, "cancelled") {
		t.Errorf("reply should mention cancellation, got %q", res.Reply)
	}
}

func TestEngine_TurnDeadlineBehavesAsCancellation(t *testing.T) {
	gen := genFunc(func(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
		// Outlives the turn deadline: dispatched steps are non-preemptible
		// and must still drain to success.
		time.Sleep(80 * time.Millisecond)
		return core.GenerationResult{Text: "finished anyway"}, nil
	})
	e, _ := newTestEngine(t, testutil.NewMemStore(), gen, func(cfg *Config) {
		cfg.TurnTimeout = 30 * time.Millisecond
	})

	plan := core.TurnPlan{Groups: []core.StepGroup{
		{ID: "g1", Steps: []core.StepSpec{genSpec("first", "one")}},
		{ID: "g2", Steps: []core.StepSpec{genSpec("second", "two")}},
	}}

	res := execute(t, e, plan)

	if res.Status != core.TurnStatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", res.Status, res.Error)
	}
	if !strings.Contains(res.Error, "deadline") {
		t.Errorf("error should name the deadline, got %q", res.Error)
	}

	byID := make(map[core.StepID]core.StepSummary)
	for _, sum := range res.Summaries {
		byID[sum.StepID] = sum
	}
	// The in-flight step drained past the deadline; the next group never
	// dispatched.
	if byID["first"].Status != core.StepStatusSucceeded {
		t.Errorf("first: expected succeeded, got %s", byID["first"].Status)
	}
	if byID["second"].Status != core.StepStatusPending {
		t.Errorf("second: expected pending, got %s", byID["second"].Status)
	}
	if !strings.Contains(res.Reply, "cancelled") {
		t.Errorf("reply should mention cancellation, got %q", res.Reply)
	}
}

func TestEngine_StepTimeout(t *testing.T) {
	gen := genFunc(func(ctx context.Context, req core.GenerationRequest) (core.GenerationResult, error) {
		select {
		case <-ctx.Done():
			return core.GenerationResult{}, ctx.Err()
		case <-time.After(time.Second):
			return core.GenerationResult{Text: "too late"}, nil
		}
	})
	e, _ := newTestEngine(t, testutil.NewMemStore(), gen, func(cfg *Config) {
		cfg.StepTimeout = 20 * time.Millisecond
		cfg.MaxRetries = 0
	})

	plan := core.TurnPlan{Groups: []core.StepGroup{{ID: "g1", Steps: []core.StepSpec{genSpec("slow", "hi")}}}}
	res := execute(t, e, plan)

	if res.Summaries[0].Status != core.StepStatusFailed {
		t.Fatalf("expected failed, got %s", res.Summaries[0].Status)
	}
	if res.Summaries[0].ErrCategory != core.ErrCatTimeout {
		t.Errorf("expected timeout category, got %s", res.Summaries[0].ErrCategory)
	}
}

func TestEngine_InvalidPlanRejected(t *testing.T) {
	e, _ := newTestEngine(t, testutil.NewMemStore(), testutil.NewFakeGeneration())

	res := execute(t, e, core.TurnPlan{})
	if res.Status != core.TurnStatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.Error == "" {
		t.Error("expected a validation error on the result")
	}
}

func TestEngine_NotifierSeesLifecycle(t *testing.T) {
	notifier := testutil.NewCaptureNotifier()
	e, _ := newTestEngine(t, testutil.NewMemStore(), testutil.NewFakeGeneration())

	plan := core.TurnPlan{Groups: []core.StepGroup{{ID: "g1", Steps: []core.StepSpec{genSpec("only", "hi")}}}}
	execute(t, e, plan, func(r *Request) { r.Notifier = notifier })

	if notifier.TurnStarts() != 1 {
		t.Errorf("expected 1 turn start, got %d", notifier.TurnStarts())
	}
	if got := notifier.Started(); len(got) != 1 || got[0] != "only" {
		t.Errorf("unexpected started steps: %v", got)
	}
	if got := notifier.Finished(); len(got) != 1 || got[0].Status != core.StepStatusSucceeded {
		t.Errorf("unexpected finished steps: %v", got)
	}
	if got := notifier.TurnResults(); len(got) != 1 || got[0].Status != core.TurnStatusCompleted {
		t.Errorf("unexpected turn results: %v", got)
	}
}

func TestEngine_SameGroupOutputsInvisible(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed("items", core.Row{"id": "i1"})
	e, _ := newTestEngine(t, store, testutil.NewFakeGeneration())

	plan := core.TurnPlan{Groups: []core.StepGroup{
		{ID: "g1", Steps: []core.StepSpec{
			{ID: "read1", Kind: core.StepKindRead, Inputs: core.StepInputs{
				Read: &core.ReadInputs{Collection: "items"},
			}},
			{ID: "sibling", Kind: core.StepKindAnalyze, Inputs: core.StepInputs{
				Analyze: &core.AnalyzeInputs{Focus: "sibling view"},
			}},
		}},
		{ID: "g2", Steps: []core.StepSpec{
			{ID: "later", Kind: core.StepKindAnalyze, Inputs: core.StepInputs{
				Analyze: &core.AnalyzeInputs{Focus: "later view"},
			}},
		}},
	}}

	res := execute(t, e, plan)
	if res.Status != core.TurnStatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}

	byID := make(map[core.StepID]core.StepSummary)
	for _, sum := range res.Summaries {
		byID[sum.StepID] = sum
	}
	// The same-group sibling saw no earlier outputs; the later group saw both.
	if text := byID["sibling"].Output.Text; strings.Contains(text, "read1") {
		t.Errorf("sibling should not see same-group output, got %q", text)
	}
	if text := byID["later"].Output.Text; !strings.Contains(text, "read1") {
		t.Errorf("later group should see earlier outputs, got %q", text)
	}
}
