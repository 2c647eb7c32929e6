package reliability

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// MinFreeDiskPercent is the free space below which VACUUM is skipped: it
// needs room for a full copy of the database.
const MinFreeDiskPercent = 10.0

// DatabaseMaintenance runs SQLite housekeeping on the game database.
type DatabaseMaintenance struct {
	db  *database.DB
	log zerolog.Logger
}

// NewDatabaseMaintenance creates the maintenance service.
func NewDatabaseMaintenance(db *database.DB, log zerolog.Logger) *DatabaseMaintenance {
	return &DatabaseMaintenance{
		db:  db,
		log: log.With().Str("service", "db_maintenance").Str("database", db.Name()).Logger(),
	}
}

// Checkpoint truncates the WAL.
func (m *DatabaseMaintenance) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := m.db.WALCheckpoint(ctx, database.CheckpointTruncate)
	if err != nil {
		return err
	}
	m.log.Debug().Int("checkpointed", state.Checkpointed).Bool("busy", state.Busy).Msg("WAL checkpoint completed")
	return nil
}

// Vacuum checks integrity, then rebuilds the file when there is disk space.
func (m *DatabaseMaintenance) Vacuum(ctx context.Context) error {
	if err := m.db.QuickCheck(ctx); err != nil {
		return fmt.Errorf("integrity check failed, not vacuuming: %w", err)
	}

	free, err := m.FreeDiskPercent()
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not read disk usage")
	} else if free < MinFreeDiskPercent {
		m.log.Warn().Float64("free_percent", free).Msg("Low disk space, skipping vacuum")
		return nil
	}

	before, _ := m.db.GetStats(ctx)
	if err := m.db.Vacuum(ctx); err != nil {
		return err
	}
	after, _ := m.db.GetStats(ctx)
	if before != nil && after != nil {
		m.log.Info().
			Int64("size_before", before.SizeBytes).
			Int64("size_after", after.SizeBytes).
			Msg("Database vacuumed")
	}
	return nil
}

// FreeDiskPercent returns the free space of the volume holding the database.
func (m *DatabaseMaintenance) FreeDiskPercent() (float64, error) {
	usage, err := disk.Usage(filepath.Dir(m.db.Path()))
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage: %w", err)
	}
	return 100 - usage.UsedPercent, nil
}
