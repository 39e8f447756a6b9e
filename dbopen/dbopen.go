// Package dbopen opens the engine's SQLite databases with the pragmas that
// make a single-file store safe under concurrent writers, and provides
// BUSY-retrying statement helpers for the layers on top.
//
// Every open applies:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// The sql driver is supplied by the caller's blank import:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("protoboard.db", dbopen.WithSchema(draft.Schema))
//
// Tests use OpenMemory, which pins the pool to one connection so every query
// sees the same in-memory database.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type settings struct {
	busyTimeoutMS int
	synchronous   string
	foreignKeys   bool
	mkdirAll      bool
	schemas       []string
}

// Option customizes Open.
type Option func(*settings)

// WithBusyTimeout overrides PRAGMA busy_timeout (milliseconds). Default 10000.
func WithBusyTimeout(ms int) Option {
	return func(s *settings) { s.busyTimeoutMS = ms }
}

// WithSynchronous overrides PRAGMA synchronous. Default NORMAL.
func WithSynchronous(mode string) Option {
	return func(s *settings) { s.synchronous = mode }
}

// WithoutForeignKeys leaves PRAGMA foreign_keys off.
func WithoutForeignKeys() Option {
	return func(s *settings) { s.foreignKeys = false }
}

// WithMkdirAll creates the database file's parent directories before opening.
func WithMkdirAll() Option {
	return func(s *settings) { s.mkdirAll = true }
}

// WithSchema queues DDL to run right after the pragmas. Repeatable; schemas
// run in the order given.
func WithSchema(ddl string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, ddl) }
}

// Open opens the SQLite database at path, applies the pragmas, runs any
// queued schemas, and verifies the connection with a ping.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{
		busyTimeoutMS: 10_000,
		synchronous:   "NORMAL",
		foreignKeys:   true,
	}
	for _, o := range opts {
		o(&s)
	}

	if s.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}

	fk := "ON"
	if !s.foreignKeys {
		fk = "OFF"
	}
	pragmas := []string{
		"PRAGMA foreign_keys = " + fk,
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeoutMS),
		"PRAGMA synchronous = " + s.synchronous,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}

	for _, ddl := range s.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: apply schema: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for a test and closes it at
// cleanup. MaxOpenConns is pinned to 1: each connection to ":memory:" is its
// own database, so the pool must not fan out.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
