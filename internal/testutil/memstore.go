// Package testutil provides in-memory collaborator fakes for engine and
// service tests: a Storage double, a scripted Generation backend and a
// capturing Notifier.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/core"
)

// MemStore is an in-memory core.Storage. Upserts apply atomically, matching
// the port contract; failures can be injected per operation.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string]core.Row

	selectErr error
	upsertErr error
	deleteErr error
}

var _ core.Storage = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]core.Row)}
}

// FailSelects makes every following Select return err (nil clears).
func (m *MemStore) FailSelects(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectErr = err
}

// FailUpserts makes every following Upsert return err (nil clears).
func (m *MemStore) FailUpserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// FailDeletes makes every following Delete return err (nil clears).
func (m *MemStore) FailDeletes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Select returns copies of rows matching the filter, insertion order not
// guaranteed.
func (m *MemStore) Select(_ context.Context, collection string, filter core.Filter) ([]core.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.selectErr != nil {
		return nil, m.selectErr
	}

	var rows []core.Row
	for _, row := range m.data[collection] {
		if matches(row, filter) {
			rows = append(rows, cloneRow(row))
		}
	}
	return rows, nil
}

// Upsert inserts or replaces the batch atomically, allocating ids where
// missing. On injected failure nothing is applied.
func (m *MemStore) Upsert(_ context.Context, collection string, rows []core.Row) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	coll := m.data[collection]
	if coll == nil {
		coll = make(map[string]core.Row)
		m.data[collection] = coll
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		stored := cloneRow(row)
		id := stored.ID()
		if id == "" {
			id = uuid.NewString()
			stored["id"] = id
		}
		coll[id] = stored
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes matching rows and returns the count.
func (m *MemStore) Delete(_ context.Context, collection string, filter core.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return 0, m.deleteErr
	}

	coll := m.data[collection]
	n := 0
	for id, row := range coll {
		if matches(row, filter) {
			delete(coll, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of rows in a collection.
func (m *MemStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[collection])
}

// Get returns a copy of one row by id.
func (m *MemStore) Get(collection, id string) (core.Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.data[collection][id]
	if !ok {
		return nil, false
	}
	return cloneRow(row), true
}

// Seed inserts rows directly, bypassing failure injection.
func (m *MemStore) Seed(collection string, rows ...core.Row) []string {
	m.mu.Lock()
	old := m.upsertErr
	m.upsertErr = nil
	m.mu.Unlock()

	ids, _ := m.Upsert(context.Background(), collection, rows)

	m.mu.Lock()
	m.upsertErr = old
	m.mu.Unlock()
	return ids
}

func matches(row core.Row, filter core.Filter) bool {
	for k, want := range filter {
		if row[k] != want {
			return false
		}
	}
	return true
}

func cloneRow(row core.Row) core.Row {
	out := make(core.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
