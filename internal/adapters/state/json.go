package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/core"
)

// JSONStore implements core.Storage on a single JSON file. The whole dataset
// lives in memory; every mutation rewrites the file atomically. Suited to
// small installations and scripted use where a database file is overkill.
type JSONStore struct {
	path string
	mu   sync.RWMutex
	data map[string]map[string]core.Row
}

var _ core.Storage = (*JSONStore)(nil)

// NewJSONStore opens (creating if needed) the document file at path.
func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, core.ErrStoreUnavailable("creating state directory").WithCause(err)
	}

	s := &JSONStore{
		path: path,
		data: make(map[string]map[string]core.Row),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, core.ErrStoreUnavailable("reading state file").WithCause(err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, core.ErrStoreUnavailable("state file is corrupt").WithCause(err)
		}
	}
	return s, nil
}

// Close is a no-op; every mutation is already on disk.
func (s *JSONStore) Close() error { return nil }

// Select returns copies of documents matching the filter.
func (s *JSONStore) Select(ctx context.Context, collection string, filter core.Filter) ([]core.Row, error) {
	if ctx.Err() != nil {
		return nil, ctxErr(ctx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Row
	for _, row := range s.data[collection] {
		if rowMatches(row, filter) {
			out = append(out, copyRow(row))
		}
	}
	return out, nil
}

// Upsert applies the batch and persists. Nothing becomes visible if the
// write to disk fails.
func (s *JSONStore) Upsert(ctx context.Context, collection string, batch []core.Row) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctxErr(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneData()
	coll := next[collection]
	if coll == nil {
		coll = make(map[string]core.Row)
		next[collection] = coll
	}

	ids := make([]string, 0, len(batch))
	for _, row := range batch {
		stored := copyRow(row)
		id := stored.ID()
		if id == "" {
			id = uuid.NewString()
			stored["id"] = id
		}
		coll[id] = stored
		ids = append(ids, id)
	}

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.data = next
	return ids, nil
}

// Delete removes matching documents, persists, and returns the count.
func (s *JSONStore) Delete(ctx context.Context, collection string, filter core.Filter) (int, error) {
	if ctx.Err() != nil {
		return 0, ctxErr(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneData()
	n := 0
	for id, row := range next[collection] {
		if rowMatches(row, filter) {
			delete(next[collection], id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}

	if err := s.persist(next); err != nil {
		return 0, err
	}
	s.data = next
	return n, nil
}

// Export writes the dataset snapshot to path, atomically.
func (s *JSONStore) Export(ctx context.Context, path string) error {
	if ctx.Err() != nil {
		return ctxErr(ctx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return core.ErrInternal("encoding snapshot").WithCause(err)
	}
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return core.ErrStoreUnavailable("writing snapshot").WithCause(err)
	}
	return nil
}

func (s *JSONStore) persist(data map[string]map[string]core.Row) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return core.ErrInternal("encoding state").WithCause(err)
	}
	if err := atomicWriteFile(s.path, raw, 0o600); err != nil {
		return core.ErrStoreUnavailable("writing state file").WithCause(err)
	}
	return nil
}

func (s *JSONStore) cloneData() map[string]map[string]core.Row {
	next := make(map[string]map[string]core.Row, len(s.data))
	for coll, rows := range s.data {
		m := make(map[string]core.Row, len(rows))
		for id, row := range rows {
			m[id] = row
		}
		next[coll] = m
	}
	return next
}

func rowMatches(row core.Row, filter core.Filter) bool {
	for k, want := range filter {
		if row[k] != want {
			return false
		}
	}
	return true
}

func copyRow(row core.Row) core.Row {
	out := make(core.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func ctxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return core.ErrTimeout("store operation deadline exceeded")
	}
	return core.ErrCancelled("store operation cancelled")
}
