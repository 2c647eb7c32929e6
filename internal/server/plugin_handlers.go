package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListPlugins lists registered plugins with their state.
// GET /api/plugins
func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"plugins": s.cfg.Plugins.Statuses()})
}

// handleEnablePlugin enables a plugin.
// POST /api/plugins/{name}/enable
func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.cfg.Plugins.EnablePlugin(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "enabled": true})
}

// handleDisablePlugin disables a plugin and its dependents.
// POST /api/plugins/{name}/disable
func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.cfg.Plugins.DisablePlugin(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "enabled": false, "enabled_plugins": s.cfg.Plugins.EnabledNames()})
}
