// Package expansion implements the Expansion plugin: state authorization
// requests that are charged up front and approved after a delay, and product
// tier changes in authorized segments.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Name is the plugin name.
const Name = "Expansion"

// Scratch keys published by the compliance plugin. Companies on its
// watchlist may not expand.
const (
	complianceName = "RegulatoryCompliance"
	watchlistKey   = "watchlist"
)

// Settings is the plugin_config section of the plugin.
type Settings struct {
	AuthorizationCost  float64                        `yaml:"authorization_cost"` // per line and state
	ApprovalDelayTurns int                            `yaml:"approval_delay_turns"`
	MaxRequestsPerTurn int                            `yaml:"max_requests_per_turn"`
	TierChangeCost     map[domain.ProductTier]float64 `yaml:"tier_change_cost"` // keyed by target tier
}

// DefaultSettings returns the built-in costs and limits.
func DefaultSettings() Settings {
	return Settings{
		AuthorizationCost:  250000,
		ApprovalDelayTurns: 2,
		MaxRequestsPerTurn: 3,
		TierChangeCost: map[domain.ProductTier]float64{
			domain.TierBasic:    0,
			domain.TierStandard: 25000,
			domain.TierPremium:  75000,
		},
	}
}

func (s Settings) validate() error {
	if s.AuthorizationCost < 0 {
		return errors.New("authorization_cost must not be negative")
	}
	if s.ApprovalDelayTurns < 0 {
		return errors.New("approval_delay_turns must not be negative")
	}
	if s.MaxRequestsPerTurn < 1 {
		return errors.New("max_requests_per_turn must be at least 1")
	}
	for tier, cost := range s.TierChangeCost {
		if !tier.IsValid() {
			return fmt.Errorf("tier_change_cost: unknown tier %q", tier)
		}
		if cost < 0 {
			return fmt.Errorf("tier_change_cost for %s must not be negative", tier)
		}
	}
	return nil
}

// Plan is what the plugin accepted from one company's decision.
type Plan struct {
	Segments    []domain.Segment       `json:"segments"`
	TierChanges []domain.ProductChange `json:"tier_changes"`
	Cost        decimal.Decimal        `json:"cost"`
}

// Results is the plugin's contribution to the turn results.
type Results struct {
	Plans   map[int64]*Plan           `json:"plans"`
	Charges map[int64]decimal.Decimal `json:"charges"`
}

// CapitalAdjustments charges the expansion costs against capital.
func (r *Results) CapitalAdjustments() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(r.Charges))
	for id, cost := range r.Charges {
		out[id] = cost.Neg()
	}
	return out
}

// Plugin is the Expansion plugin.
type Plugin struct {
	plugins.Base
	store      *repositories.Store
	requests   *RequestRepository
	settings   Settings
	minCapital decimal.Decimal
	now        func() time.Time
	log        zerolog.Logger
}

// New creates the plugin.
func New(store *repositories.Store, requests *RequestRepository, log zerolog.Logger) *Plugin {
	return &Plugin{
		Base: plugins.Base{
			PluginName:    Name,
			PluginVersion: "1.0.3",
			Requires:      []string{complianceName},
		},
		store:    store,
		requests: requests,
		settings: DefaultSettings(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("plugin", Name).Logger(),
	}
}

// NewFactory returns the registry factory for the plugin.
func NewFactory(store *repositories.Store, log zerolog.Logger) plugins.Factory {
	return func() (plugins.Plugin, error) {
		if store == nil {
			return nil, errors.New("expansion: store is required")
		}
		return New(store, NewRequestRepository(store.DB(), log), log), nil
	}
}

// Initialize loads settings and prepares the request table.
func (p *Plugin) Initialize(ctx context.Context, cfg plugins.PluginConfig) error {
	settings := DefaultSettings()
	if err := cfg.Decode(&settings); err != nil {
		return err
	}
	if err := settings.validate(); err != nil {
		return err
	}
	p.settings = settings
	p.minCapital = decimal.Zero
	if cfg.Game != nil {
		p.minCapital = decimal.NewFromFloat(cfg.Game.Solvency.MinimumCapital)
	}
	return p.requests.EnsureSchema(ctx)
}

// Settings returns the active settings.
func (p *Plugin) Settings() Settings {
	return p.settings
}

// OnDecisionSubmitted checks expansion requests and tier changes. Accepted
// items are kept in the game state until results are calculated.
func (p *Plugin) OnDecisionSubmitted(ctx context.Context, company *domain.Company, d *domain.Decision, gs *gamestate.State) (*plugins.ValidationResult, error) {
	res := &plugins.ValidationResult{}
	if len(d.Decisions.Expansion) == 0 && len(d.Decisions.Products) == 0 {
		return res, nil
	}

	owned := make(map[domain.Segment]domain.ProductTier)
	for _, s := range gs.Segments {
		if s.CompanyID == company.ID {
			owned[s.Segment()] = s.Tier
		}
	}

	plan := &Plan{Cost: decimal.Zero}
	if len(d.Decisions.Expansion) > 0 {
		if onWatchlist(gs, company.ID) {
			res.Add(Name, "expansion", "expansion is suspended while the company is on the regulatory watchlist")
		} else if err := p.planExpansion(ctx, company.ID, d.Decisions.Expansion, owned, plan, res); err != nil {
			return nil, err
		}
	}

	for i, change := range d.Decisions.Products {
		field := fmt.Sprintf("products[%d]", i)
		seg := domain.Segment{State: change.State, Line: change.Line}
		current, ok := owned[seg]
		switch {
		case !ok:
			res.Add(Name, field, fmt.Sprintf("not authorized in %s", seg))
		case !change.Tier.IsValid():
			res.Add(Name, field, fmt.Sprintf("unknown tier %q", change.Tier))
		case change.Tier == current:
			res.Add(Name, field, fmt.Sprintf("%s already sells the %s tier", seg, current))
		default:
			plan.TierChanges = append(plan.TierChanges, change)
			plan.Cost = plan.Cost.Add(decimal.NewFromFloat(p.settings.TierChangeCost[change.Tier]))
		}
	}

	if len(plan.Segments) == 0 && len(plan.TierChanges) == 0 {
		return res, nil
	}
	if required := plan.Cost.Add(p.minCapital); company.CurrentCapital.LessThan(required) {
		res.Add(Name, "capital", fmt.Sprintf("capital %s cannot cover costs of %s above the minimum %s",
			company.CurrentCapital.StringFixed(0), plan.Cost.StringFixed(0), p.minCapital.StringFixed(0)))
		return res, nil
	}

	gs.Put(Name, planKey(company.ID), plan)
	return res, nil
}

func (p *Plugin) planExpansion(ctx context.Context, companyID int64, requests []domain.ExpansionRequest, owned map[domain.Segment]domain.ProductTier, plan *Plan, res *plugins.ValidationResult) error {
	seen := make(map[domain.Segment]bool)
	cost := decimal.NewFromFloat(p.settings.AuthorizationCost)

	for i, req := range requests {
		field := fmt.Sprintf("expansion[%d]", i)
		if !isStateCode(req.State) {
			res.Add(Name, field, fmt.Sprintf("invalid state %q", req.State))
			continue
		}
		if len(req.Lines) == 0 {
			res.Add(Name, field, "no lines requested")
			continue
		}
		for _, line := range req.Lines {
			seg := domain.Segment{State: req.State, Line: line}
			if !line.IsValid() {
				res.Add(Name, field, fmt.Sprintf("unknown line %q", line))
				continue
			}
			if _, ok := owned[seg]; ok {
				res.Add(Name, field, fmt.Sprintf("already authorized in %s", seg))
				continue
			}
			if seen[seg] {
				continue
			}
			pending, err := p.requests.IsRequested(ctx, companyID, seg)
			if err != nil {
				return err
			}
			if pending {
				res.Add(Name, field, fmt.Sprintf("%s was already requested", seg))
				continue
			}
			if len(plan.Segments) >= p.settings.MaxRequestsPerTurn {
				res.Add(Name, field, fmt.Sprintf("at most %d authorizations per turn", p.settings.MaxRequestsPerTurn))
				return nil
			}
			seen[seg] = true
			plan.Segments = append(plan.Segments, seg)
			plan.Cost = plan.Cost.Add(cost)
		}
	}
	return nil
}

// CalculateResults reports each company's accepted plan and its cost.
func (p *Plugin) CalculateResults(_ context.Context, turn *domain.Turn, companies []domain.Company, gs *gamestate.State) (any, error) {
	res := &Results{
		Plans:   make(map[int64]*Plan),
		Charges: make(map[int64]decimal.Decimal),
	}
	for _, c := range companies {
		plan, ok := planFor(gs, c.ID)
		if !ok {
			continue
		}
		res.Plans[c.ID] = plan
		if plan.Cost.IsPositive() {
			res.Charges[c.ID] = plan.Cost
		}
	}
	p.log.Debug().Int64("turn_id", turn.ID).Int("plans", len(res.Plans)).Msg("Expansion results calculated")
	return res, nil
}

// OnTurnComplete files this turn's requests, grants the requests that are due
// and applies tier changes. Filing and granting are idempotent, so a rerun of
// the same turn changes nothing.
func (p *Plugin) OnTurnComplete(ctx context.Context, turn *domain.Turn, results map[string]any, _ *gamestate.State) error {
	now := p.now()
	res, _ := results[Name].(*Results)

	var filed []Request
	var changes []tierChange
	if res != nil {
		ids := make([]int64, 0, len(res.Plans))
		for id := range res.Plans {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		perSegment := decimal.NewFromFloat(p.settings.AuthorizationCost)
		for _, id := range ids {
			plan := res.Plans[id]
			for _, seg := range plan.Segments {
				filed = append(filed, Request{
					CompanyID:       id,
					State:           seg.State,
					Line:            seg.Line,
					RequestedTurnID: turn.ID,
					ApproveAtTurn:   turn.Number + p.settings.ApprovalDelayTurns,
					Cost:            perSegment,
					CreatedAt:       now,
				})
			}
			for _, change := range plan.TierChanges {
				changes = append(changes, tierChange{companyID: id, change: change})
			}
		}
	}

	if len(filed) > 0 {
		n, err := p.requests.InsertAll(ctx, filed)
		if err != nil {
			return err
		}
		p.log.Info().Int64("turn_id", turn.ID).Int("filed", n).Msg("Expansion requests filed")
	}

	due, err := p.requests.Due(ctx, turn.Number)
	if err != nil {
		return err
	}

	err = p.store.InTx(ctx, func(tx *repositories.Store) error {
		for _, req := range due {
			added, err := tx.Companies.AddSegment(ctx, domain.CompanySegment{
				CompanyID:        req.CompanyID,
				State:            req.State,
				Line:             req.Line,
				Tier:             domain.TierStandard,
				AuthorizedTurnID: turn.ID,
			})
			if err != nil {
				return err
			}
			if added {
				p.log.Info().
					Int64("company_id", req.CompanyID).
					Str("segment", req.Segment().String()).
					Msg("Expansion approved")
			}
		}
		for _, tc := range changes {
			seg := domain.Segment{State: tc.change.State, Line: tc.change.Line}
			if err := tx.Companies.UpdateSegmentTier(ctx, tc.companyID, seg, tc.change.Tier); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply expansion: %w", err)
	}

	for _, req := range due {
		if err := p.requests.MarkApproved(ctx, req.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// Requests returns a company's authorization requests.
func (p *Plugin) Requests(ctx context.Context, companyID int64) ([]Request, error) {
	return p.requests.ListByCompany(ctx, companyID)
}

type tierChange struct {
	companyID int64
	change    domain.ProductChange
}

func planKey(companyID int64) string {
	return fmt.Sprintf("plan/%d", companyID)
}

func planFor(gs *gamestate.State, companyID int64) (*Plan, bool) {
	v, ok := gs.Get(Name, planKey(companyID))
	if !ok {
		return nil, false
	}
	plan, ok := v.(*Plan)
	return plan, ok
}

func onWatchlist(gs *gamestate.State, companyID int64) bool {
	v, ok := gs.Get(complianceName, watchlistKey)
	if !ok {
		return false
	}
	ids, _ := v.([]int64)
	for _, id := range ids {
		if id == companyID {
			return true
		}
	}
	return false
}

func isStateCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
