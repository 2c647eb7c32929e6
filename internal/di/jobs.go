package di

import (
	"context"
	"fmt"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/scheduler"
	"github.com/rs/zerolog"
)

// CheckDatabaseSchedule runs the database health check.
const CheckDatabaseSchedule = "0 15 * * * *"

// JobInstances holds the scheduled jobs for manual triggering.
type JobInstances struct {
	ProcessTurns  *scheduler.ProcessTurnsJob
	CheckDatabase *scheduler.CheckDatabaseJob
}

// RegisterJobs creates the scheduler and its jobs.
func RegisterJobs(c *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	c.Scheduler = scheduler.New(log)

	var semesters scheduler.SemesterLister = c.Store.Semesters
	if len(cfg.ActiveSemesters) > 0 {
		semesters = &semesterFilter{next: c.Store.Semesters, allowed: toSet(cfg.ActiveSemesters)}
	}

	jobs := &JobInstances{
		ProcessTurns:  scheduler.NewProcessTurnsJob(semesters, c.Store.Turns, c.Orchestrator, 0),
		CheckDatabase: scheduler.NewCheckDatabaseJob(c.DB, c.Work.Processor),
	}
	jobs.ProcessTurns.SetLogger(log.With().Str("job", "process_turns").Logger())
	jobs.CheckDatabase.SetLogger(log.With().Str("job", "check_database").Logger())

	if err := c.Scheduler.AddJob(cfg.TurnSchedule, jobs.ProcessTurns); err != nil {
		return nil, fmt.Errorf("failed to schedule turn processing %q: %w", cfg.TurnSchedule, err)
	}
	if err := c.Scheduler.AddJob(CheckDatabaseSchedule, jobs.CheckDatabase); err != nil {
		return nil, fmt.Errorf("failed to schedule database check: %w", err)
	}
	return jobs, nil
}

// semesterFilter restricts scheduled processing to configured semesters.
type semesterFilter struct {
	next    scheduler.SemesterLister
	allowed map[int64]bool
}

func (f *semesterFilter) ListActive(ctx context.Context) ([]domain.Semester, error) {
	all, err := f.next.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if f.allowed[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
