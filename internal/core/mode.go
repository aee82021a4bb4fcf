package core

import "fmt"

// Mode names a complexity/verbosity profile. It conditions how much work a
// turn may do (step parallelism) and how much history generation sees.
type Mode string

const (
	// ModeConcise keeps turns cheap: serial steps, short context, terse
	// replies. Suited to quick lookups.
	ModeConcise Mode = "concise"

	// ModeStandard is the default balance of parallelism and context.
	ModeStandard Mode = "standard"

	// ModeThorough allows the widest step fan-out and the deepest context
	// window. Suited to multi-entity research turns.
	ModeThorough Mode = "thorough"
)

// Verbosity is the reply-length profile derived from the mode.
type Verbosity string

const (
	VerbosityTerse     Verbosity = "terse"
	VerbosityNormal    Verbosity = "normal"
	VerbosityExpansive Verbosity = "expansive"
)

// AllModes returns all modes from cheapest to most thorough.
func AllModes() []Mode {
	return []Mode{ModeConcise, ModeStandard, ModeThorough}
}

// ValidMode checks if a mode string is valid.
func ValidMode(m Mode) bool {
	switch m {
	case ModeConcise, ModeStandard, ModeThorough:
		return true
	default:
		return false
	}
}

// ParseMode converts a string to a Mode with validation.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !ValidMode(m) {
		return "", fmt.Errorf("invalid mode: %s", s)
	}
	return m, nil
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// Description returns a human-readable description of the mode.
func (m Mode) Description() string {
	switch m {
	case ModeConcise:
		return "Serial steps, short context, terse replies"
	case ModeStandard:
		return "Balanced parallelism and context depth"
	case ModeThorough:
		return "Wide step fan-out and deep context window"
	default:
		return "Unknown mode"
	}
}

// ModeContext carries the mode plus its derived numeric budgets. It is
// resolved once at the start of a turn and read-only afterwards; a new turn
// always resolves a fresh one.
type ModeContext struct {
	Mode             Mode      `json:"mode"`
	MaxParallelSteps int       `json:"max_parallel_steps"`
	MaxContextTurns  int       `json:"max_context_turns"`
	Verbosity        Verbosity `json:"verbosity"`
}

// modeBudgets is the default budget table per mode.
var modeBudgets = map[Mode]ModeContext{
	ModeConcise:  {Mode: ModeConcise, MaxParallelSteps: 1, MaxContextTurns: 4, Verbosity: VerbosityTerse},
	ModeStandard: {Mode: ModeStandard, MaxParallelSteps: 2, MaxContextTurns: 10, Verbosity: VerbosityNormal},
	ModeThorough: {Mode: ModeThorough, MaxParallelSteps: 4, MaxContextTurns: 20, Verbosity: VerbosityExpansive},
}

// ResolveMode derives the ModeContext for one turn from stored session
// preferences and an optional explicit per-turn override. Pure and
// deterministic: same inputs, same output, no side effects.
func ResolveMode(prefs SessionPreferences, override Mode) ModeContext {
	mode := prefs.Mode
	if override != "" {
		mode = override
	}
	if !ValidMode(mode) {
		mode = ModeStandard
	}

	mc := modeBudgets[mode]
	if override == "" {
		// Preference overrides apply only when the turn did not force a mode.
		if prefs.MaxParallelSteps > 0 {
			mc.MaxParallelSteps = prefs.MaxParallelSteps
		}
		if prefs.MaxContextTurns > 0 {
			mc.MaxContextTurns = prefs.MaxContextTurns
		}
	}
	return mc
}
