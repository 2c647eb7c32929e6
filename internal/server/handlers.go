package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/insuresim/underwriter/internal/turns"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "underwriter",
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var stageErr *turns.StageError
	switch {
	case errors.Is(err, repositories.ErrNotFound), errors.Is(err, plugins.ErrUnknownPlugin):
		status = http.StatusNotFound
	case errors.Is(err, turns.ErrTurnBusy):
		status = http.StatusConflict
	case errors.Is(err, turns.ErrTurnNotProcessable), errors.Is(err, errInvalidRequest):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &stageErr):
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	body := map[string]any{"error": err.Error()}
	if stageErr != nil {
		body["stage"] = turns.StageName(stageErr.Stage)
	}
	s.writeJSON(w, status, body)
}

var errInvalidRequest = errors.New("invalid request")

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s", errInvalidRequest, name)
	}
	return id, nil
}
