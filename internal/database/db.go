// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the SQLite storage layer.
//
// WRITE CONCURRENCY MODEL:
//
// Single writer connection with read-only reader pool architecture:
//   - writerConn: Single connection (SetMaxOpenConns=1) for all write operations
//   - readerPool: Read-only connection pool for concurrent reads
//   - BeginTx (write): Uses writerConn, fully serialized by writerMu mutex
//   - WAL mode allows concurrent readers during writes
//
// The single writer connection + writerMu mutex eliminates both SQLITE_BUSY
// errors and "cannot start a transaction within a transaction" errors by fully
// serializing all write transactions. Only one write transaction can be active
// at a time, which also gives read-modify-write counter updates (the hourly
// API access quota) the atomicity they need.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/innodigi/licenser/internal/dbinterface"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultBusyTimeoutMillis = 5000

type DB struct {
	writerConn *sql.DB // Single connection for all writes (SetMaxOpenConns=1)
	readerPool *sql.DB // Read-only connection pool for concurrent reads

	// Write transaction serialization. Even though writerConn has
	// SetMaxOpenConns=1, BeginTx doesn't queue properly and fails immediately
	// with "cannot start a transaction within a transaction". This mutex
	// ensures write transactions are properly serialized.
	writerMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Tx wraps sql.Tx so write transactions release the writer mutex exactly once.
type Tx struct {
	tx         *sql.Tx
	unlockFn   func()
	unlockOnce sync.Once
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) Commit() error {
	err := t.tx.Commit()
	if err == nil && t.unlockFn != nil {
		t.unlockOnce.Do(t.unlockFn)
	}
	return err
}

// Rollback rolls back the transaction and releases the writer mutex. Always
// releases the mutex since the transaction is done regardless of the rollback
// result (it may already be closed from a prior failed commit).
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if t.unlockFn != nil {
		t.unlockOnce.Do(t.unlockFn)
	}
	return err
}

var connectionPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL", // NORMAL is safe with WAL and much faster than FULL
	"PRAGMA foreign_keys = ON",
	fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis),
}

func applyConnectionPragmas(ctx context.Context, conn *sql.DB) error {
	for _, pragma := range connectionPragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func New(databasePath string) (*DB, error) {
	log.Info().Msgf("Initializing database at: %s", databasePath)

	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	writerConn, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer connection at %s: %w", databasePath, err)
	}
	writerConn.SetMaxOpenConns(1)
	writerConn.SetMaxIdleConns(1)

	ctx := context.Background()
	if err := applyConnectionPragmas(ctx, writerConn); err != nil {
		writerConn.Close()
		return nil, err
	}

	readerPool, err := sql.Open("sqlite", databasePath+"?mode=ro")
	if err != nil {
		writerConn.Close()
		return nil, fmt.Errorf("failed to open reader pool at %s: %w", databasePath, err)
	}
	readerPool.SetMaxOpenConns(4)
	if err := applyConnectionPragmas(ctx, readerPool); err != nil {
		writerConn.Close()
		readerPool.Close()
		return nil, err
	}

	db := &DB{
		writerConn: writerConn,
		readerPool: readerPool,
	}

	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// ExecContext routes writes to the writer connection.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	return db.writerConn.ExecContext(ctx, query, args...)
}

// QueryContext routes reads to the reader pool.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.readerPool.QueryContext(ctx, query, args...)
}

// QueryRowContext routes reads to the reader pool.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.readerPool.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction. Read-only transactions use the reader pool and
// run concurrently; write transactions take the writer mutex and hold it until
// Commit or Rollback.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	if opts != nil && opts.ReadOnly {
		tx, err := db.readerPool.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Tx{tx: tx}, nil
	}

	db.writerMu.Lock()
	tx, err := db.writerConn.BeginTx(ctx, opts)
	if err != nil {
		db.writerMu.Unlock()
		return nil, err
	}
	return &Tx{tx: tx, unlockFn: db.writerMu.Unlock}, nil
}

func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if err := db.readerPool.Close(); err != nil {
			db.closeErr = err
		}
		if err := db.writerConn.Close(); err != nil {
			db.closeErr = err
		}
	})
	return db.closeErr
}

func (db *DB) migrate() error {
	ctx := context.Background()

	_, err := db.writerConn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			filename TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		filenames = append(filenames, entry.Name())
	}
	sort.Strings(filenames)

	pending := make([]string, 0, len(filenames))
	for _, filename := range filenames {
		var count int
		if err := db.writerConn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE filename = ?", filename).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", filename, err)
		}
		if count == 0 {
			pending = append(pending, filename)
		}
	}

	if len(pending) == 0 {
		log.Debug().Msg("No pending migrations")
		return nil
	}

	tx, err := db.writerConn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, filename := range pending {
		content, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES (?)", filename); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", filename, err)
		}
		log.Info().Str("migration", filename).Msg("Applied migration")
	}

	return tx.Commit()
}
