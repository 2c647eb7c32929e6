package work

import (
	"context"
	"strings"
	"time"
)

// WorkTimeout is the maximum duration a work item can run before being cancelled.
const WorkTimeout = 2 * time.Minute

// MaxRetries is the maximum number of times a failed work item will be retried.
const MaxRetries = 5

// PollInterval is how often the processor looks for work without a trigger.
const PollInterval = 30 * time.Second

// Timing defines when work may start relative to turn processing.
type Timing int

const (
	// AnyTime means work can run while turns are processed.
	AnyTime Timing = iota
	// WhenIdle means work only starts when no turn is being processed.
	WhenIdle
)

var timingNames = [...]string{AnyTime: "AnyTime", WhenIdle: "WhenIdle"}

func (t Timing) String() string {
	if t < 0 || int(t) >= len(timingNames) {
		return "Unknown"
	}
	return timingNames[t]
}

// Priority defines the execution priority of work types.
type Priority int

const (
	// PriorityLow is for maintenance.
	PriorityLow Priority = iota
	// PriorityMedium is for archival.
	PriorityMedium
	// PriorityHigh is for player-facing work such as notifications.
	PriorityHigh
)

var priorityNames = [...]string{PriorityLow: "Low", PriorityMedium: "Medium", PriorityHigh: "High"}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return "Unknown"
	}
	return priorityNames[p]
}

// WorkType defines a type of work that can be executed.
type WorkType struct {
	// ID is the unique identifier, "category:name" (e.g. "notify:turn").
	ID string

	// DependsOn lists work type IDs that must have completed for the same
	// subject before this work can run.
	DependsOn []string

	Timing Timing

	// Interval is the minimum time between runs of the same subject (0 = every time it is found).
	Interval time.Duration

	Priority Priority

	// FindSubjects returns subjects that need this work: []string{""} for
	// global work, nil when there is nothing to do. Optional for work that is
	// only ever enqueued.
	FindSubjects func() []string

	// Execute performs the work for a subject.
	Execute func(ctx context.Context, subject string) error
}

// WorkItem is one unit of work to execute.
type WorkItem struct {
	// ID is the full work ID including subject (e.g. "notify:turn:12").
	ID      string
	TypeID  string
	Subject string
	Retries int

	CreatedAt time.Time
}

// NewWorkItem creates a work item for a subject.
func NewWorkItem(workType *WorkType, subject string) *WorkItem {
	return &WorkItem{
		ID:        makeKey(workType.ID, subject),
		TypeID:    workType.ID,
		Subject:   subject,
		CreatedAt: time.Now(),
	}
}

// ParseWorkID splits a full work ID into type ID and subject.
// "archive:turn:12" returns ("archive:turn", "12"); "maintenance:vacuum"
// returns ("maintenance:vacuum", "").
func ParseWorkID(id string) (typeID string, subject string) {
	parts := strings.Split(id, ":")
	if len(parts) <= 2 {
		return id, ""
	}
	return strings.Join(parts[:len(parts)-1], ":"), parts[len(parts)-1]
}

func makeKey(typeID, subject string) string {
	if subject == "" {
		return typeID
	}
	return typeID + ":" + subject
}
