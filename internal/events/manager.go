package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Manager handles typed event emission and logging on top of a Bus.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus for registration and diagnostics.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Emit publishes typed data under its own event type and logs it.
func (m *Manager) Emit(ctx context.Context, source string, data EventData, opts ...EmitOption) *Event {
	event := m.bus.Emit(ctx, data.EventType(), data, source, opts...)

	m.log.Info().
		Str("event_type", string(event.Type)).
		Str("event_id", event.ID).
		Str("source", source).
		RawJSON("data", PayloadJSON(data)).
		Msg("Event emitted")
	return event
}

// EmitPluginError reports a failing plugin hook.
func (m *Manager) EmitPluginError(ctx context.Context, plugin, hook string, turnID int64, err error) {
	m.Emit(ctx, "plugin_manager", &PluginErrorData{
		Plugin: plugin,
		Hook:   hook,
		Error:  err.Error(),
		TurnID: turnID,
	})
}

// PayloadJSON marshals event data, falling back to an empty object.
func PayloadJSON(data EventData) []byte {
	if data == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return []byte("{}")
	}
	return b
}
