// Package events provides the in-process event bus used to coordinate the turn
// engine, plugins and observers.
package events

import (
	"strings"
	"time"
)

// EventType names an occurrence. Dotted names group related events ("turn.completed").
type EventType string

const (
	// Turn lifecycle
	TurnCreated        EventType = "turn.created"
	TurnStarted        EventType = "turn.started"
	TurnStageCompleted EventType = "turn.stage_completed"
	TurnCompleted      EventType = "turn.completed"
	TurnFailed         EventType = "turn.failed"

	// Domain events
	DecisionDefaulted   EventType = "decision.defaulted"
	DecisionInvalid     EventType = "decision.invalid"
	MarketSimulated     EventType = "market.simulated"
	CompanyBankrupt     EventType = "company.bankrupt"
	CatastropheOccurred EventType = "catastrophe.occurred"
	LiquidationExecuted EventType = "liquidation.executed"
	NotificationQueued  EventType = "notification.queued"
	TurnArchived        EventType = "turn.archived"

	// Plugin lifecycle
	PluginLoaded      EventType = "plugin.loaded"
	PluginInitialized EventType = "plugin.initialized"
	PluginEnabled     EventType = "plugin.enabled"
	PluginDisabled    EventType = "plugin.disabled"
	PluginError       EventType = "plugin.error"

	// Background work
	WorkStarted   EventType = "work.started"
	WorkCompleted EventType = "work.completed"
	WorkFailed    EventType = "work.failed"
)

// AllEvents matches every event type when used as a registration pattern.
const AllEvents EventType = "*"

// Matches reports whether an event type matches a registration pattern.
// Patterns are exact names or end in a trailing "*" wildcard ("turn.*").
func (p EventType) Matches(eventType EventType) bool {
	pattern := string(p)
	if !strings.HasSuffix(pattern, "*") {
		return p == eventType
	}
	return strings.HasPrefix(string(eventType), strings.TrimSuffix(pattern, "*"))
}

// Priority orders handlers for an event; lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityLowest
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHighest:
		return "highest"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityLowest:
		return "lowest"
	default:
		return "unknown"
	}
}

// Event is an immutable record of something that happened.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Data          EventData `json:"data,omitempty"`
}
