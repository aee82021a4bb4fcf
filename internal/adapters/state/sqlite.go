// Package state provides the SQLite-backed document store behind the
// Storage port. Rows are schemaless JSON documents keyed by (collection, id);
// filters match top-level fields via json_extract. Upserts apply in a single
// transaction so a failed batch leaves nothing behind.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/parley-ai/parley/internal/core"
)

//go:embed migrations/001_documents.sql
var migrationV1 string

// filterKeyRe restricts filter keys to plain identifiers so they can be
// spliced into a json_extract path.
var filterKeyRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SQLiteStore implements core.Storage on a single SQLite database file.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

var _ core.Storage = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath with WAL
// journaling and runs pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, core.ErrStoreUnavailable("creating state directory").WithCause(err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, core.ErrStoreUnavailable("opening database").WithCause(err)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return core.ErrStoreUnavailable("applying migration v1").WithCause(err)
		}
	}
	return nil
}

// Select returns documents matching the filter. A nil filter returns the
// whole collection.
func (s *SQLiteStore) Select(ctx context.Context, collection string, filter core.Filter) ([]core.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT body FROM documents WHERE "+where, args...)
	if err != nil {
		return nil, storeErr(ctx, "selecting from "+collection, err)
	}
	defer rows.Close()

	var out []core.Row
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, storeErr(ctx, "scanning document", err)
		}
		row := core.Row{}
		if err := json.Unmarshal([]byte(body), &row); err != nil {
			return nil, core.ErrInternal("decoding document body").WithCause(err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "iterating documents", err)
	}
	return out, nil
}

// Upsert inserts or replaces the batch in one transaction, allocating ids
// where missing. The returned ids are in batch order.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, batch []core.Row) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(ctx, "beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	ids := make([]string, 0, len(batch))
	for _, row := range batch {
		id := row.ID()
		if id == "" {
			id = uuid.NewString()
			row = cloneWithID(row, id)
		}

		body, err := json.Marshal(row)
		if err != nil {
			return nil, core.ErrInternal("encoding document body").WithCause(err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, body, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				body = excluded.body,
				updated_at = excluded.updated_at
		`, collection, id, string(body), now)
		if err != nil {
			return nil, storeErr(ctx, "upserting into "+collection, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(ctx, "committing upsert", err)
	}
	return ids, nil
}

// Delete removes matching documents and returns the count.
func (s *SQLiteStore) Delete(ctx context.Context, collection string, filter core.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE "+where, args...)
	if err != nil {
		return 0, storeErr(ctx, "deleting from "+collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(ctx, "counting deleted documents", err)
	}
	return int(n), nil
}

// Collections lists the distinct collection names present.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, storeErr(ctx, "listing collections", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storeErr(ctx, "scanning collection name", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Export writes every document as a single JSON snapshot to path, atomically.
func (s *SQLiteStore) Export(ctx context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT collection, body FROM documents ORDER BY collection, id")
	if err != nil {
		return storeErr(ctx, "reading documents for export", err)
	}
	defer rows.Close()

	snapshot := make(map[string][]json.RawMessage)
	for rows.Next() {
		var collection, body string
		if err := rows.Scan(&collection, &body); err != nil {
			return storeErr(ctx, "scanning export row", err)
		}
		snapshot[collection] = append(snapshot[collection], json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return storeErr(ctx, "iterating export rows", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return core.ErrInternal("encoding snapshot").WithCause(err)
	}
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return core.ErrStoreUnavailable("writing snapshot").WithCause(err)
	}
	return nil
}

// buildWhere composes the WHERE clause for a collection plus top-level field
// filter. Filter keys iterate in sorted order so queries are stable.
func buildWhere(collection string, filter core.Filter) (string, []interface{}, error) {
	clauses := []string{"collection = ?"}
	args := []interface{}{collection}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !filterKeyRe.MatchString(k) {
			return "", nil, core.ErrValidation(core.CodeInvalidInputs, fmt.Sprintf("invalid filter key %q", k))
		}
		if k == "id" {
			clauses = append(clauses, "id = ?")
		} else {
			clauses = append(clauses, fmt.Sprintf("json_extract(body, '$.%s') = ?", k))
		}
		args = append(args, filterValue(filter[k]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// filterValue maps Go values onto what json_extract yields for them.
func filterValue(v interface{}) interface{} {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func cloneWithID(row core.Row, id string) core.Row {
	out := make(core.Row, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	out["id"] = id
	return out
}

// storeErr maps driver failures to domain errors. Context expiry keeps its
// own category so the scheduler can tell a timeout from a dead store.
func storeErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return core.ErrTimeout(op).WithCause(err)
		}
		return core.ErrCancelled(op).WithCause(err)
	}
	return core.ErrStoreUnavailable(op).WithCause(err)
}
