// Package sqlite provides a kv.Store persisted in a sqlite database, letting
// tokens survive a restart of the host process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/hybridflow/hybridflow/kv"
)

// Store is a sqlite backed kv.Store.  Changes made through a Store are
// announced to its watchers; changes made by other processes sharing the
// database file are not.
type Store struct {
	kv.Notifier

	db    *sql.DB
	clock clockwork.Clock
}

// ensure that Store implements the kv.Store and kv.Watcher interfaces
var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Watcher = (*Store)(nil)
)

// Open opens the database at dsn and applies the embedded schema.  The dsn
// ":memory:" opens a private in-memory database.
// Supported options:
//   - WithClock
//   - WithoutMigrations
func Open(ctx context.Context, dsn string, opt ...Option) (*Store, error) {
	const op = "sqlite.Open"
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: dsn is empty", op)
	}
	opts := getStoreOpts(opt...)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// every connection to ":memory:" is a distinct database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &Store{db: db, clock: opts.withClock}
	if !opts.withoutMigrations {
		if err := s.ApplyMigrations(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get implements the kv.Store interface.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	const op = "Store.Get"
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.clock.Now().UnixMilli(),
	).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("%s: %q: %w", op, key, kv.ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return value, nil
}

// Set implements the kv.Store interface.
func (s *Store) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	const op = "Store.Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty", op)
	}
	var expiresAt int64
	if expiry > 0 {
		expiresAt = s.clock.Now().Add(expiry).UnixMilli()
	}
	old, err := s.lookup(ctx, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.Notify(kv.Change{Key: key, OldValue: old, NewValue: value})
	return nil
}

// Remove implements the kv.Store interface.
func (s *Store) Remove(ctx context.Context, key string) error {
	const op = "Store.Remove"
	old, err := s.lookup(ctx, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.Notify(kv.Change{Key: key, OldValue: old})
	}
	return nil
}

// Purge deletes every expired entry and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	const op = "Store.Purge"
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`,
		s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// lookup returns the current value of key, ignoring expiry, or "" when the
// key is missing.
func (s *Store) lookup(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
