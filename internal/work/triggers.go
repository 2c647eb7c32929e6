package work

import (
	"context"

	"github.com/insuresim/underwriter/internal/events"
)

// TriggerHandlerName is the bus registration name of the work triggers.
const TriggerHandlerName = "work_triggers"

// RegisterTriggers subscribes the processor to turn events: a completed turn
// is queued for archival, and any turn outcome wakes the processor so idle-only
// work can start.
func RegisterTriggers(bus *events.Bus, processor *Processor, archive bool) error {
	return bus.Register(
		[]events.EventType{events.TurnCompleted, events.TurnFailed},
		TriggerHandlerName,
		func(_ context.Context, ev *events.Event) error {
			if ev.Type == events.TurnCompleted && archive {
				scoped, ok := ev.Data.(events.Scoped)
				if ok {
					_, turnID := scoped.Scope()
					if turnID > 0 {
						return processor.Enqueue(TypeArchiveTurn, TurnSubject(turnID))
					}
				}
			}
			processor.Trigger()
			return nil
		},
		events.PriorityLow,
		"",
	)
}
