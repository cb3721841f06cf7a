// Package sqlite implements repository.ProfileRepository on an embedded
// SQLite database (modernc.org/sqlite, pure Go, no CGo).
//
// It is the default store for local development and the store the test
// suites run against; production deployments point DATABASE_URL at MongoDB.
//
// dbPath examples:
//   - "data/profiles.db" → file-based database
//   - ":memory:"         → in-memory database, gone on Close
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Option customises a DB.
type Option func(*DB)

// WithClock overrides the time source used for bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// New opens the database at dbPath and runs migrations.
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate database, and SQLite
	// serialises writers anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	// provider_subject_id is the primary key, so the upsert in profile.go
	// can rely on ON CONFLICT for atomicity.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			provider_subject_id TEXT PRIMARY KEY,
			name                TEXT NOT NULL DEFAULT '',
			given_name          TEXT NOT NULL DEFAULT '',
			family_name         TEXT NOT NULL DEFAULT '',
			email               TEXT NOT NULL DEFAULT '',
			email_verified      INTEGER NOT NULL DEFAULT 0,
			picture             TEXT NOT NULL DEFAULT '',
			locale              TEXT NOT NULL DEFAULT '',
			access_token        TEXT NOT NULL DEFAULT '',
			refresh_token       TEXT NOT NULL DEFAULT '',
			token_expires_at    DATETIME,
			is_signed_in        INTEGER NOT NULL DEFAULT 0,
			is_signed_out       INTEGER NOT NULL DEFAULT 0,
			last_sign_in_at     DATETIME,
			created_at          DATETIME NOT NULL,
			updated_at          DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_created_at ON profiles(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating profiles table: %w", err)
	}
	return nil
}
