package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/parley-ai/parley/internal/core"
)

// executeStep runs one attempt of a step according to its kind. The returned
// error carries a domain category the retry policy and the scheduler act on.
func (e *Engine) executeStep(ctx context.Context, tctx *Context, s *core.Step) (*core.StepOutput, error) {
	switch s.Kind {
	case core.StepKindRead:
		return e.executeRead(ctx, tctx, s.Inputs.Read)
	case core.StepKindAnalyze:
		return e.executeAnalyze(tctx, s.Inputs.Analyze)
	case core.StepKindGenerate:
		return e.executeGenerate(ctx, tctx, s.Inputs.Generate)
	case core.StepKindWrite:
		return e.executeWrite(ctx, s.Inputs.Write)
	default:
		return nil, core.ErrValidation(core.CodeInvalidPlan, fmt.Sprintf("unknown step kind %q", s.Kind))
	}
}

// executeRead queries the storage collaborator and, when a ref kind is
// declared, registers every returned row with the session registry.
func (e *Engine) executeRead(ctx context.Context, tctx *Context, in *core.ReadInputs) (*core.StepOutput, error) {
	rows, err := e.store.Select(ctx, in.Collection, in.Filter)
	if err != nil {
		return nil, err
	}
	if in.Limit > 0 && len(rows) > in.Limit {
		rows = rows[:in.Limit]
	}

	var tokens []string
	if in.RefKind != "" && tctx.Registry != nil {
		for _, row := range rows {
			id := row.ID()
			if id == "" {
				continue
			}
			token := tctx.Registry.Register(in.RefKind, id)
			tctx.Registry.Touch(token, tctx.TurnIndex)
			tokens = append(tokens, token)
		}
	}

	data, err := json.Marshal(map[string]interface{}{
		"collection": in.Collection,
		"rows":       rows,
		"refs":       tokens,
	})
	if err != nil {
		return nil, core.ErrInternal("encoding read result").WithCause(err)
	}

	text := fmt.Sprintf("%d rows from %s", len(rows), in.Collection)
	if len(tokens) > 0 {
		text += fmt.Sprintf(", %d refs registered", len(tokens))
	}
	return &core.StepOutput{Text: text, Data: data}, nil
}

// executeAnalyze digests earlier-group outputs and resolved references into
// a deterministic summary. An unknown token is reported in the output, not
// escalated: resolution misses are never fatal to the turn.
func (e *Engine) executeAnalyze(tctx *Context, in *core.AnalyzeInputs) (*core.StepOutput, error) {
	var b strings.Builder
	if in.Focus != "" {
		fmt.Fprintf(&b, "focus: %s\n", in.Focus)
	}

	var resolved, missing []string
	for _, token := range in.Refs {
		if tctx.Registry == nil {
			missing = append(missing, token)
			continue
		}
		backingID, err := tctx.Registry.Resolve(token)
		if err != nil {
			missing = append(missing, token)
			continue
		}
		tctx.Registry.Touch(token, tctx.TurnIndex)
		resolved = append(resolved, fmt.Sprintf("%s=%s", token, backingID))
	}
	if len(resolved) > 0 {
		fmt.Fprintf(&b, "resolved %d refs: %s\n", len(resolved), strings.Join(resolved, ", "))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "unresolved refs: %s\n", strings.Join(missing, ", "))
	}

	ids := tctx.EarlierOutputs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out, ok := tctx.EarlierOutput(id)
		if !ok || out.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", id, out.Text)
	}

	text := strings.TrimRight(b.String(), "\n")
	if text == "" {
		text = "nothing to analyze"
	}

	data, err := json.Marshal(map[string]interface{}{
		"resolved":   len(resolved),
		"unresolved": missing,
		"inputs":     len(ids),
	})
	if err != nil {
		return nil, core.ErrInternal("encoding analysis").WithCause(err)
	}
	return &core.StepOutput{Text: text, Data: data}, nil
}

// executeGenerate calls the generation backend with the rendered context
// block and any earlier-group material the prompt references.
func (e *Engine) executeGenerate(ctx context.Context, tctx *Context, in *core.GenerateInputs) (*core.StepOutput, error) {
	req := core.GenerationRequest{
		System:    systemPrompt(tctx.Mode.Verbosity),
		Prompt:    in.Prompt,
		Schema:    in.Schema,
		MaxTokens: in.MaxTokens,
	}
	if in.UseContext {
		req.Context = tctx.Block.Text
	}
	for _, token := range in.Refs {
		if tctx.Registry != nil {
			tctx.Registry.Touch(token, tctx.TurnIndex)
		}
	}

	res, err := e.gen.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &core.StepOutput{Text: res.Text}
	if len(in.Schema) > 0 {
		structured := res.Structured
		if len(structured) == 0 {
			structured = json.RawMessage(res.Text)
		}
		if !json.Valid(structured) {
			return nil, core.ErrInvalidResponse("backend returned non-JSON for a schema request")
		}
		out.Data = structured
	}
	return out, nil
}

// executeWrite applies one atomic mutation to the storage collaborator.
// Exactly one attempt is ever made; the batch either fully applies or the
// session state is untouched.
func (e *Engine) executeWrite(ctx context.Context, in *core.WriteInputs) (*core.StepOutput, error) {
	if len(in.Delete) > 0 {
		n, err := e.store.Delete(ctx, in.Collection, in.Delete)
		if err != nil {
			return nil, err
		}
		data, _ := json.Marshal(map[string]interface{}{"deleted": n})
		return &core.StepOutput{
			Text: fmt.Sprintf("deleted %d rows from %s", n, in.Collection),
			Data: data,
		}, nil
	}

	ids, err := e.store.Upsert(ctx, in.Collection, in.Rows)
	if err != nil {
		return nil, err
	}
	data, mErr := json.Marshal(map[string]interface{}{"ids": ids})
	if mErr != nil {
		return nil, core.ErrInternal("encoding write result").WithCause(mErr)
	}
	return &core.StepOutput{
		Text: fmt.Sprintf("wrote %d rows to %s", len(ids), in.Collection),
		Data: data,
	}, nil
}

// systemPrompt maps the mode's verbosity to the assistant's base instruction.
func systemPrompt(v core.Verbosity) string {
	switch v {
	case core.VerbosityTerse:
		return "You are a helpful assistant. Answer in one or two short sentences."
	case core.VerbosityExpansive:
		return "You are a helpful assistant. Answer thoroughly, covering relevant details and caveats."
	default:
		return "You are a helpful assistant. Answer clearly and concisely."
	}
}
