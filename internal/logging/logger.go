package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with redaction and domain chainers.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
	// RedactPatterns are extra regexes redacted from every record, on top
	// of the built-in credential patterns.
	RedactPatterns []string
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "auto",
		Output:    os.Stdout,
		AddSource: false,
	}
}

// New creates a new logger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	level := parseLevel(cfg.Level)
	sanitizer := NewSanitizer()
	for _, p := range cfg.RedactPatterns {
		// Invalid custom patterns are skipped rather than failing startup.
		_ = sanitizer.AddPattern(p)
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.AddSource,
		})
	case "text":
		handler = slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.AddSource,
		})
	default: // auto
		if isTerminal(cfg.Output) {
			handler = NewPrettyHandler(cfg.Output, level)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{
				Level:     level,
				AddSource: cfg.AddSource,
			})
		}
	}

	handler = NewSanitizingHandler(handler, sanitizer)

	return &Logger{
		Logger:    slog.New(handler),
		sanitizer: sanitizer,
	}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sanitizer: NewSanitizer(),
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// WithSession returns a logger with session context.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("session_id", sessionID),
		sanitizer: l.sanitizer,
	}
}

// WithTurn returns a logger with turn context.
func (l *Logger) WithTurn(turnID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("turn_id", turnID),
		sanitizer: l.sanitizer,
	}
}

// WithStep returns a logger with step context.
func (l *Logger) WithStep(stepID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("step_id", stepID),
		sanitizer: l.sanitizer,
	}
}

// WithUser returns a logger with user context.
func (l *Logger) WithUser(userID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("user_id", userID),
		sanitizer: l.sanitizer,
	}
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		sanitizer: l.sanitizer,
	}
}

// Sanitize redacts sensitive content using the logger's sanitizer.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
