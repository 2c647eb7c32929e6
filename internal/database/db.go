// Package database opens the game's SQLite database and applies its schema.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schemas/game_schema.sql
var gameSchema string

// DatabaseProfile selects durability settings.
type DatabaseProfile string

const (
	// ProfileLedger fsyncs every commit. Turn results and capital must
	// survive a crash in the middle of a pipeline.
	ProfileLedger DatabaseProfile = "ledger"
	// ProfileStandard is used by tests and dev mode.
	ProfileStandard DatabaseProfile = "standard"
)

var commonPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"wal_autocheckpoint(1000)",
	"cache_size(-64000)", // 64MB
}

var profilePragmas = map[DatabaseProfile][]string{
	ProfileLedger:   {"synchronous(FULL)", "auto_vacuum(NONE)"},
	ProfileStandard: {"synchronous(NORMAL)", "auto_vacuum(INCREMENTAL)", "temp_store(MEMORY)"},
}

// Config holds database configuration
type Config struct {
	Path    string
	Profile DatabaseProfile
	Name    string // Used in logs and error messages
}

// DB is the game database connection.
type DB struct {
	conn    *sql.DB
	path    string
	profile DatabaseProfile
	name    string
}

// New opens the database at cfg.Path, creating its directory when needed.
// Paths starting with "file:" are passed to the driver unchanged.
func New(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}
	if cfg.Name == "" {
		cfg.Name = "game"
	}
	if !strings.HasPrefix(cfg.Path, "file:") {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = abs
	}

	conn, err := sql.Open("sqlite", dsn(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
	if cfg.Profile == ProfileLedger {
		// Writers queue on busy_timeout under FULL sync
		conn.SetMaxOpenConns(8)
	} else {
		conn.SetMaxOpenConns(25)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

func dsn(path string, profile DatabaseProfile) string {
	pragmas := append(append([]string{}, commonPragmas...), profilePragmas[profile]...)
	parts := make([]string, len(pragmas))
	for i, p := range pragmas {
		parts[i] = "_pragma=" + p
	}
	// Transactions take the write lock on BEGIN. A deferred transaction that
	// upgrades after another writer committed fails with SQLITE_BUSY at once
	// instead of waiting on busy_timeout.
	parts = append(parts, "_txlock=immediate")
	return path + "?" + strings.Join(parts, "&")
}

// Schema returns the game schema DDL.
func Schema() string {
	return gameSchema
}

// Migrate applies the schema. Every statement is CREATE ... IF NOT EXISTS,
// so it runs on each start.
func (db *DB) Migrate() error {
	return WithTransactionContext(context.Background(), db.conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec(gameSchema); err != nil {
			return fmt.Errorf("failed to apply schema to %s: %w", db.name, err)
		}
		return nil
	})
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the connection pool shared by the repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name for logging
func (db *DB) Name() string {
	return db.name
}

// Profile returns the durability profile.
func (db *DB) Profile() DatabaseProfile {
	return db.profile
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}
