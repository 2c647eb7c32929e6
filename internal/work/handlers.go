package work

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handlers exposes the work processor over HTTP.
type Handlers struct {
	processor *Processor
	registry  *Registry
}

// NewHandlers creates the work HTTP handlers.
func NewHandlers(processor *Processor, registry *Registry) *Handlers {
	return &Handlers{processor: processor, registry: registry}
}

// RegisterRoutes mounts the work routes under /api/work.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/work", func(r chi.Router) {
		r.Get("/types", h.ListWorkTypes)
		r.Post("/{workType}/execute", h.ExecuteWorkType)
		r.Post("/{workType}/{subject}/enqueue", h.EnqueueWork)
		r.Post("/trigger", h.TriggerProcessor)
	})
}

// ListWorkTypes returns the registered work types.
func (h *Handlers) ListWorkTypes(w http.ResponseWriter, _ *http.Request) {
	types := h.registry.ByPriority()
	response := make([]map[string]any, 0, len(types))
	for _, wt := range types {
		response = append(response, map[string]any{
			"id":               wt.ID,
			"priority":         wt.Priority.String(),
			"timing":           wt.Timing.String(),
			"interval_seconds": wt.Interval.Seconds(),
			"depends_on":       wt.DependsOn,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"types":   response,
		"pending": h.processor.Pending(),
	})
}

// ExecuteWorkType runs global work synchronously.
func (h *Handlers) ExecuteWorkType(w http.ResponseWriter, r *http.Request) {
	workType := chi.URLParam(r, "workType")
	if err := h.processor.ExecuteNow(r.Context(), workType, ""); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed", "work_type": workType})
}

// EnqueueWork queues work for a subject, such as re-archiving a turn.
func (h *Handlers) EnqueueWork(w http.ResponseWriter, r *http.Request) {
	workType := chi.URLParam(r, "workType")
	subject := chi.URLParam(r, "subject")
	if err := h.processor.Enqueue(workType, subject); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "work_type": workType, "subject": subject})
}

// TriggerProcessor wakes the processor.
func (h *Handlers) TriggerProcessor(w http.ResponseWriter, _ *http.Request) {
	h.processor.Trigger()
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
