package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer       = 100
	streamWriteTimeout = 5 * time.Second
)

// EventStream pushes bus events to websocket clients as JSON.
type EventStream struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventStream creates the stream handler.
func NewEventStream(bus *events.Bus, log zerolog.Logger) *EventStream {
	return &EventStream{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP upgrades GET /api/events/stream?types=turn.*,company.bankrupt
func (h *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	patterns := []events.EventType{events.AllEvents}
	if raw := r.URL.Query().Get("types"); raw != "" {
		patterns = patterns[:0]
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				patterns = append(patterns, events.EventType(t))
			}
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	ch := make(chan *events.Event, streamBuffer)
	name := "stream:" + uuid.NewString()
	err = h.bus.Register(patterns, name, func(_ context.Context, e *events.Event) error {
		select {
		case ch <- e:
		default:
			h.log.Warn().Str("event_type", string(e.Type)).Msg("Event channel full, dropping event")
		}
		return nil
	}, events.PriorityLowest, "")
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer h.bus.Unregister(name)

	h.log.Info().Str("subscriber", name).Int("patterns", len(patterns)).Msg("Client connected to event stream")

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("subscriber", name).Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, e)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Str("subscriber", name).Msg("Event stream write failed")
				return
			}
		}
	}
}
