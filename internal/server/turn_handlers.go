package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/turns"
)

// handleListTurns lists a semester's turns.
// GET /api/semesters/{semesterID}/turns
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	semesterID, err := idParam(r, "semesterID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.cfg.Store.Semesters.GetByID(r.Context(), semesterID); err != nil {
		s.writeError(w, err)
		return
	}
	list, err := s.cfg.Store.Turns.ListBySemester(r.Context(), semesterID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Turn{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"turns": list})
}

// turnStatus is the detail view of a turn.
type turnStatus struct {
	Turn       *domain.Turn        `json:"turn"`
	Stages     []stageStatus       `json:"stages"`
	Results    []domain.TurnResult `json:"results"`
	Decisions  int                 `json:"decisions"`
	Processing bool                `json:"processing"`
	LastStage  string              `json:"last_stage,omitempty"`
}

type stageStatus struct {
	Stage       int       `json:"stage"`
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
}

// handleGetTurn returns a turn with its stage checkpoints and results.
// GET /api/turns/{turnID}
func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	turnID, err := idParam(r, "turnID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	ctx := r.Context()
	turn, err := s.cfg.Store.Turns.GetByID(ctx, turnID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cps, err := s.cfg.Store.Turns.Checkpoints(ctx, turnID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.cfg.Store.Results.ListByTurn(ctx, turnID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	decisions, err := s.cfg.Store.Decisions.ListByTurn(ctx, turnID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := turnStatus{
		Turn:       turn,
		Stages:     make([]stageStatus, 0, len(cps)),
		Results:    results,
		Decisions:  len(decisions),
		Processing: turn.Status == domain.TurnProcessing,
	}
	if out.Results == nil {
		out.Results = []domain.TurnResult{}
	}
	for _, cp := range cps {
		out.Stages = append(out.Stages, stageStatus{Stage: cp.Stage, Name: cp.Name, CompletedAt: cp.CompletedAt})
	}
	if n := len(cps); n > 0 {
		out.LastStage = cps[n-1].Name
	}
	s.writeJSON(w, http.StatusOK, out)
}

type processRequest struct {
	Force bool `json:"force"`
}

// handleProcessTurn runs the semester's pending turn now.
// POST /api/semesters/{semesterID}/process
func (s *Server) handleProcessTurn(w http.ResponseWriter, r *http.Request) {
	semesterID, err := idParam(r, "semesterID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req processRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.process(w, r, semesterID, turns.Options{Force: req.Force})
}

// handleOpenTurn opens the semester's next turn for decisions, or returns the
// one already open.
// POST /api/semesters/{semesterID}/open
func (s *Server) handleOpenTurn(w http.ResponseWriter, r *http.Request) {
	semesterID, err := idParam(r, "semesterID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	turn, err := s.cfg.Orchestrator.OpenTurn(r.Context(), semesterID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, turn)
}

// handleRetryTurn reruns a failed (or, with force, stuck) turn.
// POST /api/turns/{turnID}/retry
func (s *Server) handleRetryTurn(w http.ResponseWriter, r *http.Request) {
	turnID, err := idParam(r, "turnID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req processRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	turn, err := s.cfg.Store.Turns.GetByID(r.Context(), turnID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.process(w, r, turn.SemesterID, turns.Options{TurnID: turnID, Force: req.Force})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, semesterID int64, opts turns.Options) {
	// The run continues if the client disconnects.
	ctx := context.WithoutCancel(r.Context())
	start := time.Now()

	report, err := s.cfg.Orchestrator.ProcessTurn(ctx, semesterID, opts)
	if took := time.Since(start); took > s.cfg.ProcessTimeout {
		s.log.Warn().Int64("semester_id", semesterID).Dur("took", took).Msg("Manual turn run was slow")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleSubmitDecision stores a company's decision for an open turn.
// PUT /api/turns/{turnID}/companies/{companyID}/decision
func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	turnID, err := idParam(r, "turnID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	companyID, err := idParam(r, "companyID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	ctx := r.Context()

	turn, err := s.cfg.Store.Turns.GetByID(ctx, turnID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if turn.Status != domain.TurnUpcoming && turn.Status != domain.TurnActive {
		s.writeError(w, fmt.Errorf("turn %d is %s: %w", turnID, turn.Status, turns.ErrTurnNotProcessable))
		return
	}
	company, err := s.cfg.Store.Companies.GetByID(ctx, companyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if company.SemesterID != turn.SemesterID {
		s.writeError(w, fmt.Errorf("%w: company %d is not in semester %d", errInvalidRequest, companyID, turn.SemesterID))
		return
	}
	if !company.IsOperating() {
		s.writeError(w, fmt.Errorf("%w: company %d is %s", errInvalidRequest, companyID, company.Status))
		return
	}

	var bag domain.DecisionBag
	if err := json.NewDecoder(r.Body).Decode(&bag); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	decision := &domain.Decision{
		CompanyID:   companyID,
		TurnID:      turnID,
		Decisions:   bag,
		SubmittedAt: time.Now().UTC(),
		Valid:       true,
	}
	if err := s.cfg.Store.Decisions.Submit(ctx, decision); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, decision)
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}
