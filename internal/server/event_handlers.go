package server

import (
	"net/http"
	"strconv"

	"github.com/insuresim/underwriter/internal/events"
)

// handleEventHistory returns buffered events, oldest first.
// GET /api/events/history?type=turn.*&source=turn_orchestrator&limit=50
func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.HistoryFilter{
		Type:   events.EventType(q.Get("type")),
		Source: q.Get("source"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, errInvalidRequest)
			return
		}
		filter.Limit = limit
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.cfg.Bus.History(filter)})
}

// handleEventHandlers lists the registered handlers.
// GET /api/events/handlers
func (s *Server) handleEventHandlers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"handlers": s.cfg.Bus.Handlers()})
}

// handleHandlerErrors returns recorded handler failures.
// GET /api/events/errors?handler=name
func (s *Server) handleHandlerErrors(w http.ResponseWriter, r *http.Request) {
	errs := s.cfg.Bus.HandlerErrors(r.URL.Query().Get("handler"))
	if errs == nil {
		errs = []events.HandlerError{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"errors": errs})
}
