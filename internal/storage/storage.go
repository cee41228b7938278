// Package storage is morph's synced key-value store: a SQLite table shared
// by every morph process on the host, with a polled change feed. Writes are
// last-write-wins; every write bumps a store-wide version so the feed can
// replay exactly what changed since the last poll.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/morph/dbopen"
	"github.com/hazyhaar/morph/watch"
)

// Schema creates the kv table.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_version ON kv(version);
`

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("storage: key not found")

// Change is one write observed by the feed.
type Change struct {
	Key     string
	Value   []byte
	Version int64
}

// Store wraps the kv table.
type Store struct {
	db       *sql.DB
	interval time.Duration
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often Watch checks for new versions. Default: 200ms.
func WithPollInterval(d time.Duration) Option { return func(s *Store) { s.interval = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New wraps db. The schema must already be applied (see Schema).
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, interval: 200 * time.Millisecond, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (or creates) the store database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return New(db, opts...), nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the value stored under key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return []byte(v), nil
}

// Lookup is Get with absence reported as ok=false.
func (s *Store) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set writes value under key and returns the new store version.
func (s *Store) Set(ctx context.Context, key string, value []byte) (int64, error) {
	var version int64
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM kv`).Scan(&version); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				version = excluded.version,
				updated_at = excluded.updated_at`,
			key, string(value), version, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("storage: set %s: %w", key, err)
	}
	return version, nil
}

// Version returns the current store version (0 when empty).
func (s *Store) Version(ctx context.Context) (int64, error) {
	return watch.MaxColumn("kv", "version")(ctx, s.db)
}

// Since returns the writes with from < version <= to, oldest first. Only
// the latest write of each key survives in the table, so intermediate
// values of a key rewritten in the range are not replayed.
func (s *Store) Since(ctx context.Context, from, to int64) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, version FROM kv
		WHERE version > ? AND version <= ?
		ORDER BY version`, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: since %d: %w", from, err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var c Change
		var v string
		if err := rows.Scan(&c.Key, &v, &c.Version); err != nil {
			return nil, err
		}
		c.Value = []byte(v)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Watch delivers every write made after the call, from this process or any
// other, until ctx is done. fn runs on the polling goroutine.
func (s *Store) Watch(ctx context.Context, fn func(key string, value []byte)) error {
	start, err := s.Version(ctx)
	if err != nil {
		return fmt.Errorf("storage: watch: %w", err)
	}
	p := watch.New(s.db, watch.Options{
		Interval: s.interval,
		Detector: watch.MaxColumn("kv", "version"),
		Start:    &start,
		Logger:   s.logger,
	})
	p.Run(ctx, func(ctx context.Context, from, to int64) error {
		changes, err := s.Since(ctx, from, to)
		if err != nil {
			return err
		}
		for _, c := range changes {
			fn(c.Key, c.Value)
		}
		return nil
	})
	return nil
}
