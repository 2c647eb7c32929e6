package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/turns"
	"github.com/rs/zerolog"
)

// SemesterLister lists the semesters whose turns are processed.
type SemesterLister interface {
	ListActive(ctx context.Context) ([]domain.Semester, error)
}

// PendingTurnFinder returns a semester's unprocessed turn.
type PendingTurnFinder interface {
	GetPending(ctx context.Context, semesterID int64) (*domain.Turn, error)
}

// TurnProcessor runs the turn pipeline and opens turns for decisions.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, semesterID int64, opts turns.Options) (*turns.Report, error)
	OpenTurn(ctx context.Context, semesterID int64) (*domain.Turn, error)
}

// ProcessTurnsJob processes the due turn of every active semester. A turn is
// due once its window has ended; a semester without a pending turn gets one
// opened so players can submit decisions before it is processed.
type ProcessTurnsJob struct {
	JobBase
	semesters SemesterLister
	turns     PendingTurnFinder
	processor TurnProcessor
	timeout   time.Duration
	now       func() time.Time
}

// NewProcessTurnsJob creates the job. timeout bounds the lookups before a
// run; a pipeline that has started is never cancelled by the job.
func NewProcessTurnsJob(semesters SemesterLister, pending PendingTurnFinder, processor TurnProcessor, timeout time.Duration) *ProcessTurnsJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ProcessTurnsJob{
		JobBase:   JobBase{log: zerolog.Nop()},
		semesters: semesters,
		turns:     pending,
		processor: processor,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the job name
func (j *ProcessTurnsJob) Name() string {
	return "process_turns"
}

// Run processes every due semester. One semester failing does not stop the
// others; a semester already being processed is skipped.
func (j *ProcessTurnsJob) Run() error {
	ctx := context.Background()
	semesters, err := j.semesters.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active semesters: %w", err)
	}

	var errs []error
	processed := 0
	for _, sem := range semesters {
		due, err := j.due(sem.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !due {
			continue
		}
		ok, err := j.process(ctx, sem.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			processed++
		}
	}

	j.log.Info().
		Int("semesters", len(semesters)).
		Int("processed", processed).
		Int("failed", len(errs)).
		Msg("Scheduled turn processing finished")
	return errors.Join(errs...)
}

func (j *ProcessTurnsJob) due(semesterID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	turn, err := j.turns.GetPending(ctx, semesterID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return false, j.open(ctx, semesterID)
	case err != nil:
		return false, fmt.Errorf("semester %d: %w", semesterID, err)
	}
	if turn.EndsAt.After(j.now()) {
		j.log.Debug().Int64("semester_id", semesterID).Time("ends_at", turn.EndsAt).Msg("Turn still open")
		return false, nil
	}
	return true, nil
}

// open starts the decision window of a semester's next turn. A semester whose
// last turn failed or is still processing waits for it to be resolved.
func (j *ProcessTurnsJob) open(ctx context.Context, semesterID int64) error {
	turn, err := j.processor.OpenTurn(ctx, semesterID)
	switch {
	case errors.Is(err, turns.ErrTurnBusy), errors.Is(err, turns.ErrTurnNotProcessable):
		j.log.Warn().Err(err).Int64("semester_id", semesterID).Msg("Next turn not opened")
		return nil
	case err != nil:
		return fmt.Errorf("semester %d: %w", semesterID, err)
	}
	j.log.Info().
		Int64("semester_id", semesterID).
		Int("turn_number", turn.Number).
		Time("ends_at", turn.EndsAt).
		Msg("Turn opened for decisions")
	return nil
}

func (j *ProcessTurnsJob) process(ctx context.Context, semesterID int64) (bool, error) {
	// Cancelling mid-run would leave the turn failed halfway through.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	report, err := j.processor.ProcessTurn(ctx, semesterID, turns.Options{})
	if took := time.Since(start); took > j.timeout {
		j.log.Warn().Int64("semester_id", semesterID).Dur("took", took).Dur("budget", j.timeout).Msg("Turn run exceeded its time budget")
	}
	if errors.Is(err, turns.ErrTurnBusy) {
		j.log.Info().Int64("semester_id", semesterID).Msg("Turn already processing, skipped")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("semester %d: %w", semesterID, err)
	}
	j.log.Info().
		Int64("semester_id", semesterID).
		Int("turn_number", report.TurnNumber).
		Int("companies", report.Companies).
		Dur("duration", report.Duration).
		Msg("Turn processed")
	return true, nil
}
