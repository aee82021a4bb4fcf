package conversation

import (
	"fmt"
	"strings"

	"github.com/parley-ai/parley/internal/core"
)

// condensedMaxRunes bounds one condensed turn line. Long enough to keep the
// gist, short enough that dozens of condensed turns stay cheap.
const condensedMaxRunes = 160

// TruncationMarker is appended when a lone oversized turn had to be clipped
// to fit the render budget.
const TruncationMarker = "[truncated]"

// Condense reduces a turn to a single summary line: whitespace collapsed,
// clipped to a fixed rune budget, prefixed with the turn index and role.
// Deterministic: the same turn always condenses to the same line.
func Condense(turn core.ConversationTurn) string {
	if turn.Condensed {
		return turn.Text
	}
	text := strings.Join(strings.Fields(turn.Text), " ")
	text = clipRunes(text, condensedMaxRunes)
	return fmt.Sprintf("[t%d %s] %s", turn.Index, turn.Role, text)
}

// clipRunes cuts s to at most n runes, appending an ellipsis when it cut.
func clipRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
