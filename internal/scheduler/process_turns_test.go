package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/turns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fakeSemesters struct {
	semesters []domain.Semester
	err       error
}

func (f *fakeSemesters) ListActive(context.Context) ([]domain.Semester, error) {
	return f.semesters, f.err
}

type fakePending map[int64]*domain.Turn

func (f fakePending) GetPending(_ context.Context, semesterID int64) (*domain.Turn, error) {
	if t, ok := f[semesterID]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("pending turn: %w", repositories.ErrNotFound)
}

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []int64
	opened   []int64
	errs     map[int64]error
	openErrs map[int64]error
	delay    time.Duration
	ctxErr   error // ctx.Err() seen at the end of the last run
}

func (f *fakeProcessor) ProcessTurn(ctx context.Context, semesterID int64, _ turns.Options) (*turns.Report, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, semesterID)
	f.ctxErr = ctx.Err()
	if err := f.errs[semesterID]; err != nil {
		return nil, err
	}
	return &turns.Report{TurnNumber: 1}, nil
}

func (f *fakeProcessor) OpenTurn(_ context.Context, semesterID int64) (*domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErrs[semesterID]; err != nil {
		return nil, err
	}
	f.opened = append(f.opened, semesterID)
	return &domain.Turn{SemesterID: semesterID, Number: 1, EndsAt: now.AddDate(0, 0, 7)}, nil
}

func newJob(semesters []domain.Semester, pending fakePending, proc *fakeProcessor) *ProcessTurnsJob {
	j := NewProcessTurnsJob(&fakeSemesters{semesters: semesters}, pending, proc, time.Minute)
	j.now = func() time.Time { return now }
	j.SetLogger(zerolog.Nop())
	return j
}

func TestProcessTurnsJob_OnlyDueSemesters(t *testing.T) {
	semesters := []domain.Semester{{ID: 1}, {ID: 2}, {ID: 3}}
	pending := fakePending{
		1: {ID: 10, EndsAt: now.Add(-time.Minute)},
		2: {ID: 20, EndsAt: now.Add(48 * time.Hour)},
	}
	proc := &fakeProcessor{}

	require.NoError(t, newJob(semesters, pending, proc).Run())
	assert.Equal(t, []int64{1}, proc.calls, "open turns wait for their deadline")
	assert.Equal(t, []int64{3}, proc.opened, "semesters without a pending turn get one opened, not processed")
}

func TestProcessTurnsJob_BlockedSemesterOpensNothing(t *testing.T) {
	semesters := []domain.Semester{{ID: 1}, {ID: 2}}
	proc := &fakeProcessor{openErrs: map[int64]error{
		1: fmt.Errorf("turn 4 is failed: %w", turns.ErrTurnNotProcessable),
		2: errors.New("disk full"),
	}}

	err := newJob(semesters, fakePending{}, proc).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NotContains(t, err.Error(), "is failed")
	assert.Empty(t, proc.calls)
	assert.Empty(t, proc.opened)
}

func TestProcessTurnsJob_TimeoutDoesNotCancelRun(t *testing.T) {
	pending := fakePending{1: {ID: 10, EndsAt: now.Add(-time.Minute)}}
	proc := &fakeProcessor{delay: 30 * time.Millisecond}
	j := newJob([]domain.Semester{{ID: 1}}, pending, proc)
	j.timeout = time.Millisecond

	require.NoError(t, j.Run())
	assert.Equal(t, []int64{1}, proc.calls)
	assert.NoError(t, proc.ctxErr, "a started run keeps a live context past the lookup budget")
}

func TestProcessTurnsJob_FailureDoesNotStopOthers(t *testing.T) {
	semesters := []domain.Semester{{ID: 1}, {ID: 2}, {ID: 3}}
	proc := &fakeProcessor{errs: map[int64]error{
		1: &turns.StageError{Stage: turns.StageMarket, Err: errors.New("market down")},
		2: fmt.Errorf("semester 2: %w", turns.ErrTurnBusy),
	}}

	past := now.Add(-time.Hour)
	pending := fakePending{1: {ID: 10, EndsAt: past}, 2: {ID: 20, EndsAt: past}, 3: {ID: 30, EndsAt: past}}

	err := newJob(semesters, pending, proc).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market down")
	assert.NotContains(t, err.Error(), "already being processed")
	assert.Equal(t, []int64{1, 2, 3}, proc.calls)
}

func TestProcessTurnsJob_ListError(t *testing.T) {
	j := NewProcessTurnsJob(&fakeSemesters{err: errors.New("db closed")}, fakePending{}, &fakeProcessor{}, 0)
	assert.ErrorContains(t, j.Run(), "db closed")
	assert.Equal(t, 10*time.Minute, j.timeout)
	assert.Equal(t, "process_turns", j.Name())
}
