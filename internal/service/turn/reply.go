package turn

import (
	"fmt"
	"strings"

	"github.com/parley-ai/parley/internal/core"
)

// composeReply builds the user-facing reply: a best-effort digest of what
// succeeded plus an explicit note for every step that did not. The reply is
// always non-empty; no fault reaches the user unexplained.
func composeReply(res core.TurnResult, verbosity core.Verbosity) string {
	var parts []string

	// Generate steps carry the conversational answer; prefer the last one.
	for i := len(res.Summaries) - 1; i >= 0; i-- {
		sum := res.Summaries[i]
		if sum.Kind == core.StepKindGenerate && sum.Status == core.StepStatusSucceeded &&
			sum.Output != nil && sum.Output.Text != "" {
			parts = append(parts, clipOutput(sum.Output.Text))
			break
		}
	}

	// Without a generated answer, fall back to a digest of succeeded steps.
	if len(parts) == 0 {
		if digest := successDigest(res.Summaries, verbosity); digest != "" {
			parts = append(parts, digest)
		}
	}

	for _, sum := range res.Summaries {
		switch sum.Status {
		case core.StepStatusFailed:
			parts = append(parts, fmt.Sprintf("Note: step %s (%s) failed: %s.", sum.StepID, sum.Kind, failureReason(sum)))
		case core.StepStatusSkipped:
			parts = append(parts, fmt.Sprintf("Note: step %s was skipped (%s).", sum.StepID, sum.Error))
		}
	}

	switch res.Status {
	case core.TurnStatusCancelled:
		parts = append(parts, "The turn was cancelled before all steps could run.")
	case core.TurnStatusFailed:
		if res.Error != "" {
			parts = append(parts, fmt.Sprintf("The turn could not complete: %s.", shortError(res.Error)))
		} else {
			parts = append(parts, "The turn could not complete.")
		}
	}

	if len(parts) == 0 {
		parts = append(parts, "Nothing to report for this turn.")
	}
	return strings.Join(parts, "\n")
}

// successDigest summarizes succeeded non-generate steps, verbosity-aware.
func successDigest(summaries []core.StepSummary, verbosity core.Verbosity) string {
	var lines []string
	for _, sum := range summaries {
		if sum.Status != core.StepStatusSucceeded || sum.Output == nil || sum.Output.Text == "" {
			continue
		}
		if verbosity == core.VerbosityTerse {
			lines = append(lines, sum.Output.Text)
		} else {
			lines = append(lines, fmt.Sprintf("%s: %s", sum.StepID, sum.Output.Text))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if verbosity == core.VerbosityTerse && len(lines) > 3 {
		lines = lines[:3]
	}
	return strings.Join(lines, "\n")
}

// failureReason renders a step failure for the reply without leaking
// internals: category plus a compact message.
func failureReason(sum core.StepSummary) string {
	switch sum.ErrCategory {
	case core.ErrCatTimeout:
		return "it timed out"
	case core.ErrCatRateLimit:
		return "the backend rate-limited the request"
	case core.ErrCatNetwork:
		return "the backend was unreachable"
	case core.ErrCatStore:
		return "the data store was unavailable"
	case core.ErrCatValidation:
		return "its output failed validation"
	default:
		return shortError(sum.Error)
	}
}

// shortError trims an error chain to its first line, clipped.
func shortError(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}

// clipOutput bounds inlined step output.
func clipOutput(s string) string {
	if len(s) <= core.MaxInlineOutputBytes {
		return s
	}
	return s[:core.MaxInlineOutputBytes] + "\n… [truncated]"
}
