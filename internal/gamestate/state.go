// Package gamestate holds the per-turn context shared by the turn pipeline and plugins.
//
// A State lives for one turn run and is discarded afterwards. Field ownership:
//
//	Turn, Semester, Config, Companies, Segments  orchestrator, set before any hook runs
//	decisions                                    orchestrator, stage 2
//	catastrophes, demand modifiers               orchestrator (turn rules) and MarketEvents
//	investment targets                           Investments plugin, during decision validation
//	market, operations, investments              orchestrator, stages 3-5
//	plugin scratch                               each plugin under its own name
//
// Readers may call any accessor at any time; the mutex only guards against
// torn reads when hooks run concurrently with HTTP diagnostics.
package gamestate

import (
	"sort"
	"sync"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/modules/investments"
	"github.com/insuresim/underwriter/internal/modules/market"
	"github.com/insuresim/underwriter/internal/modules/operations"
)

// State is the typed per-turn context.
type State struct {
	Turn      *domain.Turn
	Semester  *domain.Semester
	Config    *config.GameConfig
	Companies []domain.Company
	Segments  []domain.CompanySegment

	mu                sync.RWMutex
	decisions         map[int64]*domain.Decision
	catastrophes      []domain.Catastrophe
	demandModifiers   map[domain.Segment]float64
	investmentTargets map[int64]domain.Characteristics
	market            *market.Outcome
	operations        map[int64]*operations.CompanyResult
	investments       map[int64]*investments.CompanyResult
	plugins           map[string]map[string]any
}

// New creates the state for one turn run.
func New(turn *domain.Turn, semester *domain.Semester, cfg *config.GameConfig, companies []domain.Company, segments []domain.CompanySegment) *State {
	return &State{
		Turn:              turn,
		Semester:          semester,
		Config:            cfg,
		Companies:         companies,
		Segments:          segments,
		decisions:         make(map[int64]*domain.Decision),
		demandModifiers:   make(map[domain.Segment]float64),
		investmentTargets: make(map[int64]domain.Characteristics),
		operations:        make(map[int64]*operations.CompanyResult),
		investments:       make(map[int64]*investments.CompanyResult),
		plugins:           make(map[string]map[string]any),
	}
}

// Company returns the company with id, if it takes part in the turn.
func (s *State) Company(id int64) (*domain.Company, bool) {
	for i := range s.Companies {
		if s.Companies[i].ID == id {
			return &s.Companies[i], true
		}
	}
	return nil, false
}

// SetDecision records the resolved decision of a company.
func (s *State) SetDecision(d *domain.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.CompanyID] = d
}

// Decision returns the resolved decision of a company.
func (s *State) Decision(companyID int64) (*domain.Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[companyID]
	return d, ok
}

// Decisions returns resolved decisions keyed by company id.
func (s *State) Decisions() map[int64]*domain.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*domain.Decision, len(s.decisions))
	for k, v := range s.decisions {
		out[k] = v
	}
	return out
}

// AddCatastrophe schedules a catastrophe for this turn. A second catastrophe
// with the same name and state is ignored.
func (s *State) AddCatastrophe(c domain.Catastrophe) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.catastrophes {
		if existing.Name == c.Name && existing.State == c.State {
			return false
		}
	}
	s.catastrophes = append(s.catastrophes, c)
	return true
}

// Catastrophes returns the catastrophes of this turn.
func (s *State) Catastrophes() []domain.Catastrophe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Catastrophe(nil), s.catastrophes...)
}

// ApplyDemandModifier compounds a multiplier onto a segment's demand.
func (s *State) ApplyDemandModifier(seg domain.Segment, multiplier float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.demandModifiers[seg]
	if !ok {
		current = 1
	}
	s.demandModifiers[seg] = current * multiplier
}

// DemandModifiers returns the compounded demand multipliers per segment.
func (s *State) DemandModifiers() map[domain.Segment]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Segment]float64, len(s.demandModifiers))
	for k, v := range s.demandModifiers {
		out[k] = v
	}
	return out
}

// SetInvestmentTarget records the portfolio a company steers toward this turn.
func (s *State) SetInvestmentTarget(companyID int64, target domain.Characteristics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investmentTargets[companyID] = target
}

// InvestmentTargets returns targets keyed by company id.
func (s *State) InvestmentTargets() map[int64]domain.Characteristics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]domain.Characteristics, len(s.investmentTargets))
	for k, v := range s.investmentTargets {
		out[k] = v
	}
	return out
}

// SetMarket stores the market simulation outcome.
func (s *State) SetMarket(o *market.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market = o
}

// Market returns the market outcome, nil before stage 3.
func (s *State) Market() *market.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market
}

// SetOperations stores the operations outcome of a company.
func (s *State) SetOperations(r *operations.CompanyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[r.CompanyID] = r
}

// Operations returns the operations outcome of a company.
func (s *State) Operations(companyID int64) (*operations.CompanyResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.operations[companyID]
	return r, ok
}

// SetInvestments stores the investment outcome of a company.
func (s *State) SetInvestments(r *investments.CompanyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investments[r.CompanyID] = r
}

// Investments returns the investment outcome of a company.
func (s *State) Investments(companyID int64) (*investments.CompanyResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.investments[companyID]
	return r, ok
}

// Put stores a value in a plugin's scratch namespace.
func (s *State) Put(plugin, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.plugins[plugin]
	if !ok {
		ns = make(map[string]any)
		s.plugins[plugin] = ns
	}
	ns[key] = value
}

// Get reads a value from a plugin's scratch namespace.
func (s *State) Get(plugin, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.plugins[plugin][key]
	return v, ok
}

// Keys lists the keys a plugin stored, sorted.
func (s *State) Keys(plugin string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.plugins[plugin]))
	for k := range s.plugins[plugin] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
