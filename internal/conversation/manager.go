// Package conversation maintains the rolling turn history and renders it
// into a bounded context block for generation calls. Rendering is two-tier:
// the most recent turns verbatim, older turns as condensed one-liners, with
// FIFO eviction at the condensed tier when the budget forces it.
package conversation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/parley-ai/parley/internal/core"
)

// DefaultFullDetailTurns is how many recent turns render verbatim before the
// condensation tier takes over.
const DefaultFullDetailTurns = 10

// DefaultMaxTokens is the render budget used when the caller passes none.
const DefaultMaxTokens = 4096

// profileBudgetShare caps the profile fragment at 1/4 of the render budget;
// a fragment bigger than that is skipped rather than crowding out history.
const profileBudgetShare = 4

var _ core.ContextManager = (*Manager)(nil)

// Manager holds one session's turn history. Append is amortized O(1);
// Render never fails. Safe for concurrent use, though within a turn only
// the scheduler touches it.
type Manager struct {
	mu              sync.RWMutex
	turns           []core.ConversationTurn
	profileFragment string
	fullDetailTurns int
}

// New creates an empty manager. fullDetailTurns <= 0 selects the default.
func New(fullDetailTurns int) *Manager {
	if fullDetailTurns <= 0 {
		fullDetailTurns = DefaultFullDetailTurns
	}
	return &Manager{fullDetailTurns: fullDetailTurns}
}

// Append adds a turn to the history. Turns arrive in completion order and
// are never mutated afterwards.
func (m *Manager) Append(turn core.ConversationTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
}

// Len returns the number of retained turns.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Turns returns a copy of the retained history in append order.
func (m *Manager) Turns() []core.ConversationTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.ConversationTurn, len(m.turns))
	copy(out, m.turns)
	return out
}

// SetProfile installs the user-profile prompt fragment rendered ahead of the
// history. The caller decides freshness; an empty fragment clears it.
func (m *Manager) SetProfile(fragment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileFragment = strings.TrimSpace(fragment)
}

// Compact replaces the text of turns older than the most recent keepRecent
// with their condensed form, bounding memory for long sessions. The backing
// store keeps the originals. Returns how many turns were condensed.
func (m *Manager) Compact(keepRecent int) int {
	if keepRecent < 0 {
		keepRecent = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := len(m.turns) - keepRecent
	condensed := 0
	for i := 0; i < cutoff; i++ {
		if m.turns[i].Condensed {
			continue
		}
		m.turns[i].Text = Condense(m.turns[i])
		m.turns[i].Condensed = true
		condensed++
	}
	return condensed
}

// Render produces a bounded context block: profile fragment first, then
// condensed older turns, then the verbatim recent window, chronologically.
// The estimated size stays within maxTokens; a lone turn that cannot fit is
// clipped with a truncation marker rather than failing the render.
func (m *Manager) Render(maxTokens int, mode core.ModeContext) core.ContextBlock {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	m.mu.RLock()
	turns := make([]core.ConversationTurn, len(m.turns))
	copy(turns, m.turns)
	profile := m.profileFragment
	window := m.fullDetailTurns
	m.mu.RUnlock()

	if mode.MaxContextTurns > 0 && mode.MaxContextTurns < window {
		window = mode.MaxContextTurns
	}
	if window < 1 {
		window = 1
	}

	var block core.ContextBlock
	if len(turns) == 0 && profile == "" {
		return block
	}

	// Profile tier: include only when it leaves room for history.
	profileCost := 0
	if profile != "" {
		profileCost = lineCost(profile)
		if profileCost <= maxTokens/profileBudgetShare {
			block.ProfileIncluded = true
		} else {
			profile = ""
			profileCost = 0
		}
	}

	// Verbatim tier: newest first, capped by the window and the budget.
	verbatim, used := selectVerbatim(turns, window, maxTokens-profileCost)
	if len(verbatim) == 0 && len(turns) > 0 {
		if block.ProfileIncluded {
			// History outranks the profile when both cannot fit.
			block.ProfileIncluded = false
			profile = ""
			profileCost = 0
			verbatim, used = selectVerbatim(turns, window, maxTokens)
		}
		if len(verbatim) == 0 {
			// The newest turn alone exceeds the budget: clip it.
			return truncatedBlock(turns[len(turns)-1], maxTokens)
		}
	}
	block.FullDetailTurns = len(verbatim)

	// Condensed tier: everything older, newest first until the budget is
	// spent; the rest counts as evicted (FIFO from the oldest side).
	budget := maxTokens - profileCost
	older := turns[:len(turns)-len(verbatim)]
	var condensed []string
	for i := len(older) - 1; i >= 0; i-- {
		line := Condense(older[i])
		cost := lineCost(line)
		if used+cost > budget {
			block.EvictedEntries = i + 1
			break
		}
		used += cost
		condensed = append(condensed, line)
		if block.CondensedTo == 0 {
			block.CondensedTo = older[i].Index
		}
		block.CondensedFrom = older[i].Index
	}

	// Assemble chronologically.
	var b strings.Builder
	if profile != "" {
		b.WriteString(profile)
		b.WriteString("\n")
	}
	for i := len(condensed) - 1; i >= 0; i-- {
		b.WriteString(condensed[i])
		b.WriteString("\n")
	}
	for i := len(verbatim) - 1; i >= 0; i-- {
		b.WriteString(renderTurnLine(verbatim[i]))
		b.WriteString("\n")
	}

	block.Text = strings.TrimRight(b.String(), "\n")
	block.EstimatedTokens = EstimateTokens(block.Text)
	return block
}

// selectVerbatim picks the newest turns that fit the window and budget,
// newest first. Returned slice is newest-to-oldest.
func selectVerbatim(turns []core.ConversationTurn, window, budget int) ([]core.ConversationTurn, int) {
	var kept []core.ConversationTurn
	used := 0
	for i := len(turns) - 1; i >= 0 && len(kept) < window; i-- {
		cost := lineCost(renderTurnLine(turns[i]))
		if used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, turns[i])
	}
	return kept, used
}

// renderTurnLine renders one turn for the verbatim tier. Turns already
// compacted render their condensed line.
func renderTurnLine(turn core.ConversationTurn) string {
	if turn.Condensed {
		return turn.Text
	}
	return fmt.Sprintf("%s: %s", turn.Role, turn.Text)
}

// truncatedBlock clips a lone oversized turn to the rune budget implied by
// maxTokens and marks the block truncated. Render never fails.
func truncatedBlock(turn core.ConversationTurn, maxTokens int) core.ContextBlock {
	prefix := fmt.Sprintf("%s: ", turn.Role)
	suffix := "… " + TruncationMarker

	runeBudget := maxTokens*charsPerToken - len([]rune(prefix)) - len([]rune(suffix))
	if runeBudget < 0 {
		runeBudget = 0
	}

	runes := []rune(strings.Join(strings.Fields(turn.Text), " "))
	if runeBudget > len(runes) {
		runeBudget = len(runes)
	}

	text := prefix + string(runes[:runeBudget]) + suffix
	return core.ContextBlock{
		Text:            text,
		EstimatedTokens: EstimateTokens(text),
		FullDetailTurns: 1,
		Truncated:       true,
	}
}
