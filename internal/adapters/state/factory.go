package state

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/internal/core"
)

// Store is what both backends provide: the Storage port plus lifecycle and
// snapshot export.
type Store interface {
	core.Storage
	Close() error
	Export(ctx context.Context, path string) error
}

// Open creates a store for the configured backend at path. An empty backend
// selects sqlite.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "json":
		return NewJSONStore(path)
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown store backend %q", backend))
	}
}
