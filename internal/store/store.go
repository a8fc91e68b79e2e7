// Package store wraps the PostgreSQL connection behind the transaction and
// classification helpers the rest of the engine builds on. Repositories and
// the ledger receive handles from here and never open their own connections.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evetabi/resolution/internal/config"
	"github.com/evetabi/resolution/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ──────────────────────────────────────────────────────────────────────────────
// Store
// ──────────────────────────────────────────────────────────────────────────────

// Store owns the database pool and the serializable transaction runner.
type Store struct {
	db         *sqlx.DB
	retryLimit int
}

// Open connects to PostgreSQL, applies the pool settings and verifies the
// connection with a ping.
func Open(cfg *config.Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("store.Open: connect: %w", err)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("store.Open: ping: %w", err)
	}

	return &Store{db: db, retryLimit: cfg.Resolution.TxRetryLimit}, nil
}

// DB exposes the underlying pool for repositories and read paths.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ──────────────────────────────────────────────────────────────────────────────
// RunTx — serializable transactions with bounded conflict retry
// ──────────────────────────────────────────────────────────────────────────────

// RunTx runs fn inside a SERIALIZABLE transaction. Serialization failures
// (SQLSTATE 40001/40P01, which surface at any statement or at COMMIT) retry
// the whole fn up to the configured limit with jittered backoff; exhaustion
// returns ErrConcurrencyExhausted. Every other error aborts immediately;
// non-transient database failures come back wrapped in ErrStoreFatal.
//
// fn must be safe to re-run from scratch: no external side effects before
// commit.
func (s *Store) RunTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= s.retryLimit; attempt++ {
		tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("store.RunTx: begin: %w", err)
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		}
		_ = tx.Rollback()

		if !IsSerializationFailure(err) {
			if IsFatal(err) {
				return fmt.Errorf("store.RunTx: %w: %v", domain.ErrStoreFatal, err)
			}
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("store.RunTx: %w", ctx.Err())
		case <-time.After(retryBackoff(attempt)):
		}
	}

	return fmt.Errorf("store.RunTx: %w after %d attempts: %v",
		domain.ErrConcurrencyExhausted, s.retryLimit, lastErr)
}

// retryBackoff grows linearly with the attempt number plus up to 25ms of
// jitter so colliding transactions drift apart.
func retryBackoff(attempt int) time.Duration {
	jitter := time.Duration(rand.Intn(25)) * time.Millisecond
	return time.Duration(attempt)*50*time.Millisecond + jitter
}

// ──────────────────────────────────────────────────────────────────────────────
// Error classification
// ──────────────────────────────────────────────────────────────────────────────

// IsSerializationFailure reports whether err is a PostgreSQL serialization
// conflict (40001) or deadlock (40P01). Only these re-enter the retry loop.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// IsTransient reports whether err is worth retrying at a higher level:
// serialization conflicts, connection failures (class 08), resource
// exhaustion (class 53) or a server shutting down.
func IsTransient(err error) bool {
	if IsSerializationFailure(err) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "08", "53":
		return true
	}
	return pqErr.Code == "57P03"
}

// IsFatal reports whether err is a database failure that retrying will not
// fix. RunTx surfaces these wrapped in ErrStoreFatal.
func IsFatal(err error) bool {
	if err == nil || IsTransient(err) {
		return false
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr)
}

// ──────────────────────────────────────────────────────────────────────────────
// Migrations
// ──────────────────────────────────────────────────────────────────────────────

// RunMigrations executes every *.sql file in dir in lexical order. Files are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS and friends).
func (s *Store) RunMigrations(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("store.RunMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("store.RunMigrations: read %q: %w", f, err)
		}
		if _, err = s.db.Exec(string(data)); err != nil {
			return fmt.Errorf("store.RunMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
