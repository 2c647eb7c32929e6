package domain

import (
	"time"
)

// TurnStatus is the state of a weekly turn.
//
//	upcoming -> active -> processing -> completed
//	                                  \-> failed -> processing (manual retry)
type TurnStatus string

const (
	TurnUpcoming   TurnStatus = "upcoming"
	TurnActive     TurnStatus = "active"
	TurnProcessing TurnStatus = "processing"
	TurnCompleted  TurnStatus = "completed"
	TurnFailed     TurnStatus = "failed"
)

var turnTransitions = map[TurnStatus][]TurnStatus{
	TurnUpcoming:   {TurnActive, TurnProcessing},
	TurnActive:     {TurnProcessing},
	TurnProcessing: {TurnCompleted, TurnFailed},
	TurnFailed:     {TurnProcessing},
}

// CanTransition reports whether the state machine allows moving to next.
func (s TurnStatus) CanTransition(next TurnStatus) bool {
	for _, allowed := range turnTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsPending reports whether the turn has not been processed yet.
func (s TurnStatus) IsPending() bool {
	return s == TurnUpcoming || s == TurnActive
}

// Turn is one weekly processing cycle of a semester.
type Turn struct {
	ID                    int64        `json:"id"`
	SemesterID            int64        `json:"semester_id"`
	Number                int          `json:"turn_number"`
	StartsAt              time.Time    `json:"starts_at"`
	EndsAt                time.Time    `json:"ends_at"` // decision deadline
	ProcessingStartedAt   *time.Time   `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time   `json:"processing_completed_at,omitempty"`
	Status                TurnStatus   `json:"status"`
	SpecialRules          SpecialRules `json:"special_rules"`
	LastError             string       `json:"last_error,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
}

// Deadline is the end of the decision window.
func (t *Turn) Deadline() time.Time {
	return t.EndsAt
}

// IsWindowOpen reports whether decisions may still be submitted at now.
func (t *Turn) IsWindowOpen(now time.Time) bool {
	return t.Status.IsPending() && !now.Before(t.StartsAt) && now.Before(t.EndsAt)
}

// SpecialRules is the free-form per-turn payload (scheduled catastrophes, demand shocks).
type SpecialRules struct {
	Catastrophes []Catastrophe  `json:"catastrophes,omitempty" yaml:"catastrophes,omitempty"`
	DemandShocks []DemandShock  `json:"demand_shocks,omitempty" yaml:"demand_shocks,omitempty"`
	Extra        map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Catastrophe is a scheduled loss event hitting one state.
type Catastrophe struct {
	Name     string           `json:"name" yaml:"name"`
	State    string           `json:"state" yaml:"state"`
	Lines    []LineOfBusiness `json:"lines,omitempty" yaml:"lines,omitempty"` // empty = every line
	Severity float64          `json:"severity" yaml:"severity"`               // claims multiplier, >= 1
}

// Affects reports whether the catastrophe hits the segment.
func (c Catastrophe) Affects(seg Segment) bool {
	if c.State != seg.State {
		return false
	}
	if len(c.Lines) == 0 {
		return true
	}
	for _, line := range c.Lines {
		if line == seg.Line {
			return true
		}
	}
	return false
}

// ClaimsMultiplier returns the severity, never below 1.
func (c Catastrophe) ClaimsMultiplier() float64 {
	if c.Severity < 1 {
		return 1
	}
	return c.Severity
}

// DemandShock scales the base demand of a segment for one turn.
type DemandShock struct {
	State      string         `json:"state" yaml:"state"`
	Line       LineOfBusiness `json:"line,omitempty" yaml:"line,omitempty"` // empty = every line in the state
	Multiplier float64        `json:"multiplier" yaml:"multiplier"`
	Reason     string         `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Applies reports whether the shock targets the segment.
func (d DemandShock) Applies(seg Segment) bool {
	return d.State == seg.State && (d.Line == "" || d.Line == seg.Line)
}
