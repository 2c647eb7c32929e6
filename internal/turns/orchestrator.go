// Package turns runs the weekly turn pipeline of a semester.
package turns

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/modules/investments"
	"github.com/insuresim/underwriter/internal/modules/market"
	"github.com/insuresim/underwriter/internal/modules/operations"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const eventSource = "turn_orchestrator"

// Notifier is the hand-off to player-facing messaging. Calls must not block
// and the pipeline never depends on delivery.
type Notifier interface {
	DispatchTurn(ctx context.Context, turn *domain.Turn)
	DispatchBankruptcy(ctx context.Context, company *domain.Company, turn *domain.Turn)
}

// Options select the turn to process.
type Options struct {
	// TurnID reruns a specific turn instead of the semester's pending one.
	TurnID int64
	// Force allows taking over a turn stuck in processing.
	Force bool
}

// Report summarises a completed turn run.
type Report struct {
	TurnID        int64               `json:"turn_id"`
	TurnNumber    int                 `json:"turn_number"`
	Status        domain.TurnStatus   `json:"status"`
	Companies     int                 `json:"companies"`
	Defaulted     []int64             `json:"defaulted"`
	Bankrupt      []int64             `json:"bankrupt"`
	Results       []domain.TurnResult `json:"results"`
	PluginResults map[string]any      `json:"plugin_results"`
	Duration      time.Duration       `json:"duration"`
}

// Orchestrator executes the turn pipeline.
type Orchestrator struct {
	store    *repositories.Store
	plugins  *plugins.Manager
	events   *events.Manager
	base     *config.GameConfig
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	running map[int64]bool // semesters with a run in progress

	// pipeline serializes runs across semesters; plugins are reloaded with
	// each semester's config.
	pipeline sync.Mutex
}

// NewOrchestrator creates an orchestrator. base is the game config before
// semester overrides.
func NewOrchestrator(store *repositories.Store, pm *plugins.Manager, em *events.Manager, base *config.GameConfig, notifier Notifier, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		plugins:  pm,
		events:   em,
		base:     base,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("service", "turn_orchestrator").Logger(),
		running:  make(map[int64]bool),
	}
}

// run carries the state of one pipeline execution.
type run struct {
	semester  *domain.Semester
	turn      *domain.Turn
	cfg       *config.GameConfig
	gs        *gamestate.State
	scope     events.TurnScope
	rerun     bool
	started   time.Time
	report    *Report
	companies []domain.Company
	results   map[string]any
	runID     string // correlation id of every event the run emits
	log       zerolog.Logger
}

// ProcessTurn runs the full pipeline for the semester's pending turn, or for
// opts.TurnID. Any failure after the turn entered processing marks it failed,
// emits turn.failed and is returned as a *StageError.
func (o *Orchestrator) ProcessTurn(ctx context.Context, semesterID int64, opts Options) (*Report, error) {
	if !o.acquire(semesterID) {
		return nil, fmt.Errorf("semester %d: %w", semesterID, ErrTurnBusy)
	}
	defer o.release(semesterID)

	o.pipeline.Lock()
	defer o.pipeline.Unlock()

	r, err := o.begin(ctx, semesterID, opts)
	if err != nil {
		return nil, err
	}

	stages := []struct {
		stage int
		fn    func(context.Context, *run) error
	}{
		{StageValidation, o.validate},
		{StageMarket, o.simulateMarket},
		{StageOperations, o.simulateOperations},
		{StageInvestments, o.simulateInvestments},
		{StagePlugins, o.calculatePlugins},
		{StagePostProcessing, o.postProcess},
		{StageComplete, o.complete},
	}
	for _, s := range stages {
		if err := o.runStage(ctx, r, s.stage, s.fn); err != nil {
			o.fail(ctx, r, s.stage, err)
			return nil, &StageError{Stage: s.stage, Err: err}
		}
	}

	o.finish(ctx, r)
	return r.report, nil
}

func (o *Orchestrator) acquire(semesterID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[semesterID] {
		return false
	}
	o.running[semesterID] = true
	return true
}

func (o *Orchestrator) release(semesterID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, semesterID)
}

// Busy reports whether any semester has a run in progress.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running) > 0
}

// runStage executes one stage, converting panics to errors, and records its
// checkpoint once the stage's writes are committed.
func (o *Orchestrator) runStage(ctx context.Context, r *run, stage int, fn func(context.Context, *run) error) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("stack", string(debug.Stack())).Int("stage", stage).Msg("Stage panicked")
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := fn(ctx, r); err != nil {
		return err
	}
	return o.checkpoint(ctx, r, stage, time.Since(start))
}

func (o *Orchestrator) checkpoint(ctx context.Context, r *run, stage int, took time.Duration) error {
	if err := o.store.Turns.SaveCheckpoint(ctx, repositories.Checkpoint{
		TurnID:      r.turn.ID,
		Stage:       stage,
		Name:        StageName(stage),
		CompletedAt: o.now(),
	}); err != nil {
		return err
	}
	r.log.Debug().Int("stage", stage).Str("name", StageName(stage)).Dur("took", took).Msg("Stage committed")
	o.emit(ctx, r, &events.TurnStageCompletedData{
		TurnScope:  r.scope,
		Stage:      stage,
		StageName:  StageName(stage),
		DurationMs: took.Milliseconds(),
	})
	return nil
}

// begin is stage 1: find or create the turn, load the semester config and move
// the turn into processing.
func (o *Orchestrator) begin(ctx context.Context, semesterID int64, opts Options) (*run, error) {
	start := time.Now()
	semester, err := o.store.Semesters.GetByID(ctx, semesterID)
	if err != nil {
		return nil, err
	}

	turn, rerun, err := o.selectTurn(ctx, semester, opts)
	if err != nil {
		return nil, err
	}

	cfg := o.base
	if strings.TrimSpace(semester.ConfigOverrides) != "" {
		cfg, err = config.MergeGameConfig(o.base, semester.ConfigOverrides)
		if err != nil {
			return nil, fmt.Errorf("semester %d config: %w", semesterID, err)
		}
	}
	if err := o.plugins.Reload(ctx, cfg); err != nil {
		return nil, err
	}

	from := []domain.TurnStatus{domain.TurnUpcoming, domain.TurnActive, domain.TurnFailed}
	if opts.Force {
		from = append(from, domain.TurnProcessing)
	}
	moved, err := o.store.Turns.Transition(ctx, turn.ID, from, domain.TurnProcessing, "", o.now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("turn %d: %w", turn.ID, ErrTurnBusy)
	}
	turn.Status = domain.TurnProcessing

	r := &run{
		semester: semester,
		turn:     turn,
		cfg:      cfg,
		scope:    events.TurnScope{SemesterID: semesterID, TurnID: turn.ID, TurnNumber: turn.Number},
		rerun:    rerun,
		started:  start,
		results:  map[string]any{},
		runID:    uuid.NewString(),
		log:      o.log.With().Int64("semester_id", semesterID).Int64("turn_id", turn.ID).Int("turn_number", turn.Number).Logger(),
		report: &Report{
			TurnID:     turn.ID,
			TurnNumber: turn.Number,
		},
	}

	if err := o.runStage(ctx, r, StageTurn, o.prepare); err != nil {
		o.fail(ctx, r, StageTurn, err)
		return nil, &StageError{Stage: StageTurn, Err: err}
	}
	return r, nil
}

// selectTurn returns the turn to process and whether it is a rerun.
func (o *Orchestrator) selectTurn(ctx context.Context, semester *domain.Semester, opts Options) (*domain.Turn, bool, error) {
	if opts.TurnID != 0 {
		turn, err := o.store.Turns.GetByID(ctx, opts.TurnID)
		if err != nil {
			return nil, false, err
		}
		if turn.SemesterID != semester.ID {
			return nil, false, fmt.Errorf("turn %d belongs to semester %d: %w", turn.ID, turn.SemesterID, ErrTurnNotProcessable)
		}
		switch {
		case turn.Status == domain.TurnCompleted:
			return nil, false, fmt.Errorf("turn %d is completed: %w", turn.ID, ErrTurnNotProcessable)
		case turn.Status == domain.TurnProcessing && !opts.Force:
			return nil, false, fmt.Errorf("turn %d: %w", turn.ID, ErrTurnBusy)
		}
		return turn, turn.Status == domain.TurnFailed || turn.Status == domain.TurnProcessing, nil
	}

	turn, err := o.store.Turns.GetPending(ctx, semester.ID)
	if err == nil {
		return turn, false, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, false, err
	}
	turn, err = o.createNextTurn(ctx, semester)
	return turn, false, err
}

// createNextTurn synthesizes the turn after the semester's latest one.
func (o *Orchestrator) createNextTurn(ctx context.Context, semester *domain.Semester) (*domain.Turn, error) {
	latest, err := o.store.Turns.GetLatest(ctx, semester.ID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		latest = nil
	case err != nil:
		return nil, err
	case semesterOver(semester, latest):
		return nil, fmt.Errorf("semester %d has ended: %w", semester.ID, ErrTurnNotProcessable)
	}
	return o.openAfter(ctx, semester, latest, o.base.Turn.DurationDays)
}

// OpenTurn returns the semester's pending turn, opening the next one for
// decisions when none is pending. A latest turn that is processing or failed
// blocks the opening until it is resolved.
func (o *Orchestrator) OpenTurn(ctx context.Context, semesterID int64) (*domain.Turn, error) {
	if !o.acquire(semesterID) {
		return nil, fmt.Errorf("semester %d: %w", semesterID, ErrTurnBusy)
	}
	defer o.release(semesterID)

	turn, err := o.store.Turns.GetPending(ctx, semesterID)
	if err == nil || !errors.Is(err, repositories.ErrNotFound) {
		return turn, err
	}
	semester, err := o.store.Semesters.GetByID(ctx, semesterID)
	if err != nil {
		return nil, err
	}
	latest, err := o.store.Turns.GetLatest(ctx, semesterID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		latest = nil
	case err != nil:
		return nil, err
	case latest.Status != domain.TurnCompleted:
		return nil, fmt.Errorf("turn %d is %s: %w", latest.ID, latest.Status, ErrTurnNotProcessable)
	}
	if latest != nil && semesterOver(semester, latest) {
		return nil, fmt.Errorf("semester %d has ended: %w", semesterID, ErrTurnNotProcessable)
	}

	cfg := o.base
	if strings.TrimSpace(semester.ConfigOverrides) != "" {
		cfg, err = config.MergeGameConfig(o.base, semester.ConfigOverrides)
		if err != nil {
			return nil, fmt.Errorf("semester %d config: %w", semesterID, err)
		}
	}
	return o.openAfter(ctx, semester, latest, cfg.Turn.DurationDays)
}

// openAfter creates the active turn following latest, or the semester's first
// turn when latest is nil. Its window starts where the previous one ended.
func (o *Orchestrator) openAfter(ctx context.Context, semester *domain.Semester, latest *domain.Turn, days int) (*domain.Turn, error) {
	if days <= 0 {
		days = 7
	}
	turn := &domain.Turn{SemesterID: semester.ID, Number: 1, StartsAt: semester.StartsAt, Status: domain.TurnActive}
	if latest != nil {
		turn.Number = latest.Number + 1
		turn.StartsAt = latest.EndsAt
	}
	if turn.StartsAt.IsZero() {
		turn.StartsAt = o.now()
	}
	turn.EndsAt = turn.StartsAt.AddDate(0, 0, days)

	if err := o.store.Turns.Create(ctx, turn); err != nil {
		return nil, err
	}
	o.log.Info().
		Int64("semester_id", semester.ID).
		Int("turn_number", turn.Number).
		Time("ends_at", turn.EndsAt).
		Msg("Turn opened")
	o.events.Emit(ctx, eventSource, &events.TurnCreatedData{
		TurnScope: events.TurnScope{SemesterID: semester.ID, TurnID: turn.ID, TurnNumber: turn.Number},
	})
	return turn, nil
}

// openNext opens the turn after a completed one so players can submit
// decisions for it. Reruns of older turns and semesters that have ended open
// nothing.
func (o *Orchestrator) openNext(ctx context.Context, r *run) {
	latest, err := o.store.Turns.GetLatest(ctx, r.semester.ID)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to look up latest turn")
		return
	}
	if latest.Number > r.turn.Number {
		return
	}
	if semesterOver(r.semester, r.turn) {
		r.log.Info().Time("semester_ends_at", r.semester.EndsAt).Msg("Semester over, no further turn opened")
		return
	}
	if _, err := o.openAfter(ctx, r.semester, r.turn, r.cfg.Turn.DurationDays); err != nil {
		r.log.Error().Err(err).Msg("Failed to open next turn")
	}
}

// semesterOver reports whether no turn fits after last.
func semesterOver(semester *domain.Semester, last *domain.Turn) bool {
	return !semester.EndsAt.IsZero() && !last.EndsAt.Before(semester.EndsAt)
}

// prepare loads the participants, builds the game state and runs the turn
// start hooks.
func (o *Orchestrator) prepare(ctx context.Context, r *run) error {
	if err := o.store.Turns.ClearCheckpoints(ctx, r.turn.ID); err != nil {
		return err
	}
	companies, err := o.store.Companies.ListOperating(ctx, r.semester.ID)
	if err != nil {
		return err
	}
	segments, err := o.store.Companies.ListSegmentsBySemester(ctx, r.semester.ID)
	if err != nil {
		return err
	}
	r.companies = companies
	r.report.Companies = len(companies)
	r.gs = gamestate.New(r.turn, r.semester, r.cfg, companies, segments)

	for _, c := range r.turn.SpecialRules.Catastrophes {
		r.gs.AddCatastrophe(c)
	}
	for _, shock := range r.turn.SpecialRules.DemandShocks {
		for _, seg := range uniqueSegments(segments) {
			if shock.Applies(seg) {
				r.gs.ApplyDemandModifier(seg, shock.Multiplier)
			}
		}
	}

	r.log.Info().Int("companies", len(companies)).Bool("rerun", r.rerun).Msg("Turn processing started")
	o.emit(ctx, r, &events.TurnStartedData{
		TurnScope: r.scope,
		Companies: len(companies),
		Rerun:     r.rerun,
	})

	o.plugins.OnTurnStart(ctx, r.turn, r.gs)

	for _, cat := range r.gs.Catastrophes() {
		o.plugins.OnCatastrophe(ctx, cat, r.gs)
		lines := make([]string, len(cat.Lines))
		for i, l := range cat.Lines {
			lines[i] = string(l)
		}
		o.emit(ctx, r, &events.CatastropheOccurredData{
			TurnScope: r.scope,
			Name:      cat.Name,
			State:     cat.State,
			Lines:     lines,
			Severity:  cat.Severity,
		})
	}
	return nil
}

// validate is stage 2: resolve every company's decision and record its
// validation outcome. Invalid decisions never stop the turn.
func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	resolved := make(map[int64]resolvedDecision, len(r.companies))
	err := o.store.InTx(ctx, func(tx *repositories.Store) error {
		for _, c := range r.companies {
			res, err := resolveDecision(ctx, tx, c.ID, r.turn, r.cfg.Turn.CarryForwardDecisions)
			if err != nil {
				return fmt.Errorf("company %d: %w", c.ID, err)
			}
			resolved[c.ID] = res
		}
		return nil
	})
	if err != nil {
		return err
	}

	type verdict struct {
		id   int64
		errs []domain.ValidationError
	}
	verdicts := make([]verdict, 0, len(r.companies))
	for i := range r.companies {
		c := &r.companies[i]
		res := resolved[c.ID]
		if res.defaulted {
			r.report.Defaulted = append(r.report.Defaulted, c.ID)
			o.emit(ctx, r, &events.DecisionDefaultedData{TurnScope: r.scope, CompanyID: c.ID, FromTurn: res.fromTurn})
		}

		errs := ValidateDecision(c, res.decision, r.cfg)
		// Plugins see the sanitized decision so their side effects match what the market uses.
		effective := Sanitize(res.decision, r.cfg)
		r.gs.SetDecision(effective)
		errs = append(errs, o.plugins.ValidateDecision(ctx, c, effective, r.gs)...)

		res.decision.Valid = len(errs) == 0
		res.decision.ValidationErrors = errs
		effective.Valid = res.decision.Valid
		effective.ValidationErrors = errs
		verdicts = append(verdicts, verdict{id: res.decision.ID, errs: errs})

		if len(errs) > 0 {
			messages := make([]string, len(errs))
			for j, e := range errs {
				messages[j] = e.Source + ": " + e.Message
			}
			r.log.Warn().Int64("company_id", c.ID).Strs("errors", messages).Msg("Decision failed validation")
			o.emit(ctx, r, &events.DecisionInvalidData{TurnScope: r.scope, CompanyID: c.ID, Errors: messages})
		}
	}

	return o.store.InTx(ctx, func(tx *repositories.Store) error {
		for _, v := range verdicts {
			if err := tx.Decisions.UpdateValidation(ctx, v.id, len(v.errs) == 0, v.errs); err != nil {
				return err
			}
		}
		return nil
	})
}

// simulateMarket is stage 3.
func (o *Orchestrator) simulateMarket(ctx context.Context, r *run) error {
	var outcome *market.Outcome
	err := o.store.InTx(ctx, func(tx *repositories.Store) error {
		sim := market.NewSimulator(r.cfg.Market, tx.Markets, r.log)
		var err error
		outcome, err = sim.Simulate(ctx, market.Input{
			TurnID:          r.turn.ID,
			Segments:        r.gs.Segments,
			Decisions:       r.gs.Decisions(),
			DemandModifiers: r.gs.DemandModifiers(),
		})
		return err
	})
	if err != nil {
		return err
	}
	r.gs.SetMarket(outcome)

	o.emit(ctx, r, &events.MarketSimulatedData{
		TurnScope:    r.scope,
		Segments:     len(outcome.Segments),
		TotalPremium: outcome.TotalPremium().StringFixed(2),
		AveragePrice: outcome.AveragePrice(),
	})
	return nil
}

// simulateOperations is stage 4.
func (o *Orchestrator) simulateOperations(_ context.Context, r *run) error {
	sim := operations.NewSimulator(r.cfg.Operations, r.log)
	results := sim.Simulate(operations.Input{
		TurnID:       r.turn.ID,
		CompanyIDs:   companyIDs(r.companies),
		Market:       r.gs.Market(),
		Catastrophes: r.gs.Catastrophes(),
	})
	for _, res := range results {
		r.gs.SetOperations(res)
	}
	return nil
}

// simulateInvestments is stage 5.
func (o *Orchestrator) simulateInvestments(ctx context.Context, r *run) error {
	in := investments.Input{
		SemesterID:     r.semester.ID,
		TurnID:         r.turn.ID,
		TurnNumber:     r.turn.Number,
		Previous:       make(map[int64]*domain.InvestmentPortfolio),
		Shortfalls:     make(map[int64]decimal.Decimal),
		Targets:        r.gs.InvestmentTargets(),
		CatastropheHit: catastropheHits(r.gs),
	}
	for i := range r.companies {
		c := &r.companies[i]
		in.Companies = append(in.Companies, c)
		prev, err := o.store.Portfolios.LatestBefore(ctx, c.ID, r.turn.ID)
		switch {
		case err == nil:
			in.Previous[c.ID] = prev
		case !errors.Is(err, repositories.ErrNotFound):
			return err
		}
		if ops, ok := r.gs.Operations(c.ID); ok {
			in.Shortfalls[c.ID] = ops.Shortfall()
		}
	}

	sim := investments.NewSimulator(r.cfg.Investments, r.log)
	results, err := sim.Run(in)
	if err != nil {
		return err
	}

	var executed []*domain.LiquidationEvent
	err = o.store.InTx(ctx, func(tx *repositories.Store) error {
		executed = executed[:0]
		for _, id := range companyIDs(r.companies) {
			res := results[id]
			if err := tx.Portfolios.Save(ctx, &res.Portfolio); err != nil {
				return err
			}
			if res.Liquidation == nil {
				continue
			}
			inserted, err := tx.Portfolios.InsertLiquidation(ctx, res.Liquidation)
			if err != nil {
				return err
			}
			if inserted {
				executed = append(executed, res.Liquidation)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, res := range results {
		r.gs.SetInvestments(res)
	}
	for _, ev := range executed {
		o.emit(ctx, r, &events.LiquidationExecutedData{
			TurnScope:     r.scope,
			CompanyID:     ev.CompanyID,
			LiquidationID: ev.ID,
			Trigger:       string(ev.Trigger),
			Required:      ev.RequiredAmount.StringFixed(2),
			Raised:        ev.AmountRaised.StringFixed(2),
			TotalCost:     ev.TotalCost.StringFixed(2),
		})
	}
	return nil
}

// calculatePlugins is stage 6.
func (o *Orchestrator) calculatePlugins(ctx context.Context, r *run) error {
	r.results = o.plugins.CalculateResults(ctx, r.turn, r.companies, r.gs)
	r.report.PluginResults = r.results
	return nil
}

// postProcess is stage 7: results, capital, solvency and bankruptcy.
func (o *Orchestrator) postProcess(ctx context.Context, r *run) error {
	agg := NewAggregator(r.cfg)
	adjustments := CapitalAdjustments(r.results)
	outcome := r.gs.Market()

	outcomes := make([]CompanyOutcome, 0, len(r.companies))
	for _, c := range r.companies {
		ops, _ := r.gs.Operations(c.ID)
		inv, _ := r.gs.Investments(c.ID)
		var shares map[string]float64
		if outcome != nil {
			shares = outcome.SharesFor(c.ID)
		}
		outcomes = append(outcomes, agg.Compute(c, r.turn.ID, ops, inv, shares, adjustments[c.ID]))
	}

	var newlyBankrupt []domain.Company
	var results []domain.TurnResult
	err := o.store.InTx(ctx, func(tx *repositories.Store) error {
		newlyBankrupt = newlyBankrupt[:0]
		results = results[:0]
		at := o.now()
		for i := range outcomes {
			out := &outcomes[i]
			out.Result.CreatedAt = at
			inserted, err := tx.Results.Insert(ctx, &out.Result)
			if err != nil {
				return err
			}
			if !inserted {
				// Already applied by an earlier run; keep the stored result.
				stored, err := tx.Results.Get(ctx, out.Result.CompanyID, r.turn.ID)
				if err != nil {
					return err
				}
				results = append(results, *stored)
				continue
			}
			results = append(results, out.Result)

			// Flag before the financials update, which also writes the status.
			if out.Result.Bankrupt {
				flagged, err := tx.Companies.MarkBankrupt(ctx, out.Company.ID, at)
				if err != nil {
					return err
				}
				if flagged {
					newlyBankrupt = append(newlyBankrupt, out.Company)
				}
			}
			if err := tx.Companies.UpdateFinancials(ctx, &out.Company); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.report.Results = results

	for i := range newlyBankrupt {
		c := &newlyBankrupt[i]
		r.report.Bankrupt = append(r.report.Bankrupt, c.ID)
		r.log.Warn().Int64("company_id", c.ID).Str("capital", c.CurrentCapital.StringFixed(2)).Msg("Company bankrupt")
		o.emit(ctx, r, &events.CompanyBankruptData{
			TurnScope:     r.scope,
			CompanyID:     c.ID,
			CompanyName:   c.Name,
			Capital:       c.CurrentCapital.StringFixed(2),
			SolvencyRatio: c.SolvencyRatio,
		})
		o.plugins.OnCompanyBankrupt(ctx, c, r.gs)
		if o.notifier != nil {
			o.notifier.DispatchBankruptcy(ctx, c, r.turn)
		}
	}
	return nil
}

// complete is stage 8's state change.
func (o *Orchestrator) complete(ctx context.Context, r *run) error {
	moved, err := o.store.Turns.Transition(ctx, r.turn.ID, []domain.TurnStatus{domain.TurnProcessing}, domain.TurnCompleted, "", o.now())
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("turn %d left processing during the run", r.turn.ID)
	}
	r.turn.Status = domain.TurnCompleted
	r.report.Status = domain.TurnCompleted
	return nil
}

// finish runs the completion hooks once the turn is committed as completed.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	o.plugins.OnTurnComplete(ctx, r.turn, r.results, r.gs)

	r.report.Duration = time.Since(r.started)
	r.log.Info().
		Int("companies", len(r.companies)).
		Int("bankrupt", len(r.report.Bankrupt)).
		Dur("duration", r.report.Duration).
		Msg("Turn completed")
	o.emit(ctx, r, &events.TurnCompletedData{
		TurnScope:  r.scope,
		Companies:  len(r.companies),
		Bankrupt:   len(r.report.Bankrupt),
		DurationMs: r.report.Duration.Milliseconds(),
		Plugins:    o.plugins.EnabledNames(),
	})

	if o.notifier != nil {
		o.notifier.DispatchTurn(ctx, r.turn)
	}
	o.openNext(ctx, r)
}

// fail marks the turn failed and reports it. The original error is what the
// caller sees; a failure to record the failed status is only logged.
func (o *Orchestrator) fail(ctx context.Context, r *run, stage int, cause error) {
	r.log.Error().Err(cause).Int("stage", stage).Str("stage_name", StageName(stage)).Msg("Turn failed")

	if _, err := o.store.Turns.Transition(context.WithoutCancel(ctx), r.turn.ID,
		[]domain.TurnStatus{domain.TurnProcessing}, domain.TurnFailed, cause.Error(), o.now()); err != nil {
		r.log.Error().Err(err).Msg("Failed to mark turn failed")
	}
	r.turn.Status = domain.TurnFailed

	o.emit(ctx, r, &events.TurnFailedData{
		TurnScope: r.scope,
		Stage:     stage,
		StageName: StageName(stage),
		Error:     cause.Error(),
	})
}

func (o *Orchestrator) emit(ctx context.Context, r *run, data events.EventData) {
	o.events.Emit(ctx, eventSource, data, events.WithCorrelationID(r.runID))
}

func companyIDs(companies []domain.Company) []int64 {
	ids := make([]int64, len(companies))
	for i, c := range companies {
		ids[i] = c.ID
	}
	return ids
}

func uniqueSegments(segments []domain.CompanySegment) []domain.Segment {
	seen := make(map[domain.Segment]bool)
	var out []domain.Segment
	for _, s := range segments {
		seg := s.Segment()
		if !seen[seg] {
			seen[seg] = true
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// catastropheHits marks companies writing business in a segment hit this turn.
func catastropheHits(gs *gamestate.State) map[int64]bool {
	hits := make(map[int64]bool)
	cats := gs.Catastrophes()
	if len(cats) == 0 {
		return hits
	}
	for _, s := range gs.Segments {
		for _, c := range cats {
			if c.Affects(s.Segment()) {
				hits[s.CompanyID] = true
			}
		}
	}
	return hits
}
