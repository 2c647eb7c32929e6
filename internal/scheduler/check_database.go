package scheduler

import (
	"context"
	"fmt"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/work"
	"github.com/rs/zerolog"
)

// LargeWALFrames is the WAL size above which a checkpoint is requested.
const LargeWALFrames = 1000

// WorkQueue accepts maintenance work.
type WorkQueue interface {
	Enqueue(typeID, subject string) error
}

// CheckDatabaseJob verifies the integrity of the game database and requests
// a WAL checkpoint when the log grows large.
type CheckDatabaseJob struct {
	JobBase
	db    *database.DB
	queue WorkQueue
}

// NewCheckDatabaseJob creates the job. queue may be nil.
func NewCheckDatabaseJob(db *database.DB, queue WorkQueue) *CheckDatabaseJob {
	return &CheckDatabaseJob{JobBase: JobBase{log: zerolog.Nop()}, db: db, queue: queue}
}

// Name returns the job name
func (j *CheckDatabaseJob) Name() string {
	return "check_database"
}

// Run executes the check.
func (j *CheckDatabaseJob) Run() error {
	if j.db == nil {
		j.log.Warn().Msg("Database not initialized, skipping")
		return nil
	}
	if err := j.db.HealthCheck(context.Background()); err != nil {
		j.log.Error().Err(err).Str("database", j.db.Name()).Msg("Database integrity check failed")
		return fmt.Errorf("database %s is corrupted: %w", j.db.Name(), err)
	}

	wal, err := j.db.WALCheckpoint(context.Background(), database.CheckpointPassive)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to check WAL checkpoint")
		return nil
	}

	if wal.Frames > LargeWALFrames {
		j.log.Warn().
			Int("wal_frames", wal.Frames).
			Int("checkpointed", wal.Checkpointed).
			Msg("WAL file is large, requesting checkpoint")
		if j.queue != nil {
			if err := j.queue.Enqueue(work.TypeWALCheckpoint, ""); err != nil {
				return fmt.Errorf("failed to queue checkpoint: %w", err)
			}
		}
		return nil
	}
	j.log.Debug().Int("wal_frames", wal.Frames).Msg("Database check passed")
	return nil
}
