// Package store owns the single SQLite database docindex persists all
// state in: blobs, the DAG tables, the FTS gate and its content
// tables, derived artifacts, tasks, and the audit log. It provides the
// "bind database" transaction scope every higher layer (dag, fts,
// embedindex, retrieve, gc, tasks, audit) reuses.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/docindex/docindex/internal/dierrors"
)

// Options configures how Open prepares the database connection.
type Options struct {
	// BusyTimeoutMS bounds how long SQLite waits on a locked database
	// before returning SQLITE_BUSY. Defaults to 5000.
	BusyTimeoutMS int
}

func (o Options) withDefaults() Options {
	if o.BusyTimeoutMS <= 0 {
		o.BusyTimeoutMS = 5000
	}
	return o
}

// Store wraps the single writer connection to the docindex database
// plus the cross-process file lock guarding it.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open opens (creating if necessary) the database at path, applies the
// WAL/foreign-key pragmas, acquires the cross-process writer lock, and
// runs the embedded schema migration.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create data directory: %w", err)
			}
		}
	}

	lk := flock.New(path + ".lock")
	if path != ":memory:" {
		locked, err := lk.TryLock()
		if err != nil {
			return nil, fmt.Errorf("store: acquire writer lock: %w", err)
		}
		if !locked {
			return nil, dierrors.New(dierrors.ErrToolFailure, "database is locked by another process", nil).
				WithDetail("path", path)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, opts.BusyTimeoutMS)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lk.Unlock()
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Single writer: modernc.org/sqlite connections are not safe for
	// concurrent writers, and the single-writer invariant holds for the
	// whole process, not just one statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			_ = lk.Unlock()
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		_ = lk.Unlock()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if _, err := db.Exec(seedFTSMaintenance); err != nil {
		db.Close()
		_ = lk.Unlock()
		return nil, fmt.Errorf("store: seed fts_maintenance: %w", err)
	}

	return &Store{db: db, path: path, lock: lk}, nil
}

// DB returns the underlying handle for callers (fts, retrieve) that
// need read-only concurrent access outside a WithTx scope.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle and the cross-process lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return dbErr
	}
	return lockErr
}

// WithTx runs fn inside a single transaction: every DAG, FTS, and
// artifact mutation in docindex happens inside exactly one of these
// scopes, so partial state is never observable (§5). Commits on nil
// error, rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
