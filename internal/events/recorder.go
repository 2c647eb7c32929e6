package events

import (
	"context"
	"fmt"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
)

// GameEventWriter persists recorded events.
type GameEventWriter interface {
	InsertGameEvent(ctx context.Context, ev *domain.GameEvent) error
}

// Recorder writes semester-scoped events to the game event log so the
// history survives restarts.
type Recorder struct {
	writer GameEventWriter
	log    zerolog.Logger
}

// RecorderHandlerName is the name the recorder registers under.
const RecorderHandlerName = "game_event_recorder"

// NewRecorder creates a recorder backed by writer.
func NewRecorder(writer GameEventWriter, log zerolog.Logger) *Recorder {
	return &Recorder{
		writer: writer,
		log:    log.With().Str("component", "event_recorder").Logger(),
	}
}

// Attach registers the recorder on every event at the lowest priority.
func (r *Recorder) Attach(bus *Bus) error {
	return bus.Register([]EventType{AllEvents}, RecorderHandlerName, r.Handle, PriorityLowest, "")
}

// Handle persists scoped events and ignores the rest.
func (r *Recorder) Handle(ctx context.Context, event *Event) error {
	scoped, ok := event.Data.(Scoped)
	if !ok {
		return nil
	}
	semesterID, turnID := scoped.Scope()
	if semesterID == 0 {
		return nil
	}

	ge := &domain.GameEvent{
		SemesterID:    semesterID,
		EventID:       event.ID,
		EventType:     string(event.Type),
		Source:        event.Source,
		CorrelationID: event.CorrelationID,
		Payload:       string(PayloadJSON(event.Data)),
		CreatedAt:     event.Timestamp,
	}
	if turnID != 0 {
		ge.TurnID = &turnID
	}

	if err := r.writer.InsertGameEvent(ctx, ge); err != nil {
		return fmt.Errorf("failed to record event %s: %w", event.ID, err)
	}
	return nil
}
