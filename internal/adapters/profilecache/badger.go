// Package profilecache provides ProfileCache backends: a Badger-backed
// persistent cache and an in-memory one for tests and ephemeral runs.
package profilecache

import (
	"context"
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/logging"
)

const keyPrefix = "profile/"

// BadgerCache stores profile snapshots in a Badger key-value database. The
// builder writes, the session service reads; Badger handles concurrent
// access between them.
type BadgerCache struct {
	db *badger.DB
}

var _ core.ProfileCache = (*BadgerCache)(nil)

// NewBadgerCache opens (creating if needed) the cache at dir.
func NewBadgerCache(dir string, logger *logging.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Badger's own logger is too chatty for a cache
	if logger != nil {
		opts.Logger = badgerLogger{logger}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, core.ErrStoreUnavailable("opening profile cache").WithCause(err)
	}
	return &BadgerCache{db: db}, nil
}

// Close closes the database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// Get returns the latest snapshot for a user.
func (c *BadgerCache) Get(ctx context.Context, userID string) (*core.ProfileSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled("profile lookup cancelled").WithCause(err)
	}

	var snap core.ProfileSnapshot
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrNotFound("profile", userID)
	}
	if err != nil {
		return nil, core.ErrStoreUnavailable("reading profile cache").WithCause(err)
	}
	return &snap, nil
}

// Put publishes a snapshot, replacing any previous one for the user.
func (c *BadgerCache) Put(ctx context.Context, snap core.ProfileSnapshot) error {
	if err := ctx.Err(); err != nil {
		return core.ErrCancelled("profile publish cancelled").WithCause(err)
	}

	val, err := json.Marshal(snap)
	if err != nil {
		return core.ErrInternal("encoding profile snapshot").WithCause(err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+snap.Profile.UserID), val)
	})
	if err != nil {
		return core.ErrStoreUnavailable("writing profile cache").WithCause(err)
	}
	return nil
}

// badgerLogger adapts the application logger to Badger's interface.
type badgerLogger struct {
	l *logging.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{})   { b.l.Error(format, "args", args) }
func (b badgerLogger) Warningf(format string, args ...interface{}) { b.l.Warn(format, "args", args) }
func (b badgerLogger) Infof(format string, args ...interface{})    { b.l.Debug(format, "args", args) }
func (b badgerLogger) Debugf(format string, args ...interface{})   { b.l.Debug(format, "args", args) }
