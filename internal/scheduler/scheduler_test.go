package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.AddJob("0 0 0 * * MON", &countingJob{name: "weekly"}))
	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "hourly"}))

	var dup *DuplicateJobError
	assert.ErrorAs(t, s.AddJob("@hourly", &countingJob{name: "weekly"}), &dup)
	assert.Equal(t, "weekly", dup.Name)

	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "broken"}))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "hourly", entries[0].Name)
	assert.Equal(t, "weekly", entries[1].Name)
}

func TestScheduler_StartPopulatesNextRun(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@every 1h", &countingJob{name: "check"}))

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return !s.Entries()[0].Next.IsZero() }, time.Second, 10*time.Millisecond)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "manual", err: errors.New("boom")}

	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, int32(1), job.runs.Load())

	s.run(job)
	assert.Equal(t, int32(2), job.runs.Load())
}
