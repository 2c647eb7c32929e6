package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// EntryInfo describes a registered job.
type EntryInfo struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

func sortEntries(entries []EntryInfo) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// DuplicateJobError is returned when a job name is registered twice.
type DuplicateJobError struct {
	Name string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job %s is already scheduled", e.Name)
}

// JobBase carries the logger shared by all jobs.
type JobBase struct {
	log zerolog.Logger
}

// SetLogger sets the logger for the job
func (j *JobBase) SetLogger(log zerolog.Logger) {
	j.log = log
}
