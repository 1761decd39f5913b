package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

// Engine is one user's self-contained storage: a single SQLite file with its
// own WAL and connection pool.
type Engine struct {
	db   *sql.DB
	path string
}

// busyBackoff returns the retry policy for transient SQLITE_BUSY errors:
// exponential from 100ms, 3 attempts.
func busyBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// NewEngine opens (creating if needed) the database at path and ensures the
// schema is current.
func NewEngine(path string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Bounded pool; SQLite allows one writer, so keep it small.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA cache_size = -10240`,
		`PRAGMA mmap_size = 268435456`,
		`PRAGMA busy_timeout = 30000`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma failed (%s): %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ValidateSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Engine{db: db, path: path}, nil
}

// DB exposes the underlying pool for read queries.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Path returns the on-disk location of the database file.
func (e *Engine) Path() string {
	return e.path
}

// Exec runs a statement, retrying on transient busy errors.
func (e *Engine) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	op := func() error {
		var err error
		res, err = e.db.ExecContext(ctx, query, args...)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(busyBackoff(), ctx)); err != nil {
		return nil, err
	}
	return res, nil
}

// WithTx runs fn inside an immediate transaction, retrying the whole
// transaction on transient busy errors. fn must be safe to re-run.
func (e *Engine) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	op := func() error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(busyBackoff(), ctx))
}

// Health verifies the connection and the FTS index respond.
func (e *Engine) Health(ctx context.Context) error {
	var one int
	if err := e.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("liveness ping failed: %w", err)
	}
	var count int
	if err := e.db.QueryRowContext(ctx, `SELECT count(*) FROM memories_fts`).Scan(&count); err != nil {
		return fmt.Errorf("fts index check failed: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database to destPath. A WAL
// checkpoint first folds pending writes into the main file.
func (e *Engine) Backup(ctx context.Context, destPath string) error {
	if _, err := e.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}

	src, err := os.Open(e.path)
	if err != nil {
		return fmt.Errorf("failed to open database file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("backup copy failed: %w", err)
	}
	return nil
}

// Close shuts down the pool. Safe to call more than once.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	if err != nil {
		log.Printf("⚠️ [STORAGE] Error closing %s: %v", e.path, err)
	}
	return err
}
