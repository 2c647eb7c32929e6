package database

import (
	"context"
	"fmt"
	"os"
)

// CheckpointMode is a SQLite wal_checkpoint mode.
type CheckpointMode string

const (
	CheckpointPassive  CheckpointMode = "PASSIVE"
	CheckpointTruncate CheckpointMode = "TRUNCATE"
)

// WALState is the result row of PRAGMA wal_checkpoint.
type WALState struct {
	Busy         bool
	Frames       int // Frames in the WAL
	Checkpointed int // Frames moved back into the database
}

// Stats describes the database file.
type Stats struct {
	SizeBytes     int64 `json:"size_bytes"`
	WALSizeBytes  int64 `json:"wal_size_bytes"`
	PageCount     int64 `json:"page_count"`
	PageSize      int64 `json:"page_size"`
	FreelistCount int64 `json:"freelist_count"`
}

// QuickCheck pings the database.
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// HealthCheck pings the database and runs a full integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.QuickCheck(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, result)
	}
	return nil
}

// WALCheckpoint checkpoints the WAL. PASSIVE only reports and moves what it can
// without blocking; TRUNCATE also resets the WAL file.
func (db *DB) WALCheckpoint(ctx context.Context, mode CheckpointMode) (WALState, error) {
	if mode == "" {
		mode = CheckpointTruncate
	}
	var (
		state WALState
		busy  int
	)
	err := db.conn.QueryRowContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)).
		Scan(&busy, &state.Frames, &state.Checkpointed)
	if err != nil {
		return state, fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	state.Busy = busy != 0
	return state, nil
}

// Vacuum rebuilds the database file. It needs free space for a full copy.
func (db *DB) Vacuum(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum failed for %s: %w", db.name, err)
	}
	return nil
}

// GetStats reads file sizes and page counters.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	if fi, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = fi.Size()
	}
	if fi, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = fi.Size()
	}

	for pragma, dst := range map[string]*int64{
		"page_count":     &stats.PageCount,
		"page_size":      &stats.PageSize,
		"freelist_count": &stats.FreelistCount,
	} {
		if err := db.conn.QueryRowContext(ctx, "PRAGMA "+pragma).Scan(dst); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", pragma, err)
		}
	}
	return stats, nil
}
