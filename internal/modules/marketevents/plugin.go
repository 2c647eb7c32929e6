// Package marketevents implements the MarketEvents plugin: random
// catastrophes and demand shocks drawn at the start of each turn.
package marketevents

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"
)

// Name is the plugin name.
const Name = "MarketEvents"

const (
	catastropheStream = 0x6361
	shockStream       = 0x7368
)

// perils by line; the first matching peril names a catastrophe.
var perils = []struct {
	name  string
	lines []domain.LineOfBusiness
}{
	{"Hurricane", []domain.LineOfBusiness{domain.LineHomeowners, domain.LineCommercialProperty}},
	{"Hailstorm", []domain.LineOfBusiness{domain.LinePersonalAuto, domain.LineHomeowners}},
	{"Industrial accident", []domain.LineOfBusiness{domain.LineWorkersComp, domain.LineGeneralLiability}},
}

// Settings is the plugin_config section of the plugin.
type Settings struct {
	CatastropheProbability float64 `yaml:"catastrophe_probability"` // per state and turn
	MinSeverity            float64 `yaml:"min_severity"`
	MaxSeverity            float64 `yaml:"max_severity"`
	ShockProbability       float64 `yaml:"shock_probability"` // per segment and turn
	MinShock               float64 `yaml:"min_shock"`
	MaxShock               float64 `yaml:"max_shock"`
}

// DefaultSettings returns the built-in event rates.
func DefaultSettings() Settings {
	return Settings{
		CatastropheProbability: 0.03,
		MinSeverity:            1.5,
		MaxSeverity:            3.0,
		ShockProbability:       0.10,
		MinShock:               0.8,
		MaxShock:               1.25,
	}
}

func (s Settings) validate() error {
	if s.CatastropheProbability < 0 || s.CatastropheProbability > 1 || s.ShockProbability < 0 || s.ShockProbability > 1 {
		return errors.New("probabilities must be within [0, 1]")
	}
	if s.MinSeverity < 1 || s.MinSeverity > s.MaxSeverity {
		return fmt.Errorf("severity range [%v, %v] is invalid", s.MinSeverity, s.MaxSeverity)
	}
	if s.MinShock <= 0 || s.MinShock > s.MaxShock {
		return fmt.Errorf("shock range [%v, %v] is invalid", s.MinShock, s.MaxShock)
	}
	return nil
}

// Shock is a demand shock drawn for a segment.
type Shock struct {
	Segment    string  `json:"segment"`
	Multiplier float64 `json:"multiplier"`
}

// Results lists the turn's market events.
type Results struct {
	Catastrophes []domain.Catastrophe `json:"catastrophes"`
	Shocks       []Shock              `json:"shocks"`
	AffectedBy   map[string][]int64   `json:"affected_companies"` // catastrophe name -> companies writing in it
}

// Plugin is the MarketEvents plugin.
type Plugin struct {
	plugins.Base
	settings Settings
	log      zerolog.Logger

	mu       sync.Mutex
	observed []domain.Catastrophe // catastrophes broadcast this turn, scheduled and random
	shocks   []Shock
}

// New creates the plugin.
func New(log zerolog.Logger) *Plugin {
	return &Plugin{
		Base:     plugins.Base{PluginName: Name, PluginVersion: "1.0.0"},
		settings: DefaultSettings(),
		log:      log.With().Str("plugin", Name).Logger(),
	}
}

// NewFactory returns the registry factory for the plugin.
func NewFactory(log zerolog.Logger) plugins.Factory {
	return func() (plugins.Plugin, error) { return New(log), nil }
}

// Initialize loads settings.
func (p *Plugin) Initialize(_ context.Context, cfg plugins.PluginConfig) error {
	settings := DefaultSettings()
	if err := cfg.Decode(&settings); err != nil {
		return err
	}
	if err := settings.validate(); err != nil {
		return err
	}
	p.settings = settings
	return nil
}

// OnTurnStart draws random catastrophes per state and demand shocks per
// segment. Draws are seeded by turn and semester, so a rerun draws the same events.
func (p *Plugin) OnTurnStart(_ context.Context, turn *domain.Turn, gs *gamestate.State) error {
	p.mu.Lock()
	p.observed = nil
	p.shocks = nil
	p.mu.Unlock()

	states, segments := marketFootprint(gs.Segments)
	semesterID := turn.SemesterID

	cat := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(uint64(turn.ID), uint64(semesterID)^catastropheStream)}
	for _, state := range states {
		if cat.Rand() >= p.settings.CatastropheProbability {
			continue
		}
		severity := p.settings.MinSeverity + cat.Rand()*(p.settings.MaxSeverity-p.settings.MinSeverity)
		peril := perils[int(cat.Rand()*float64(len(perils)))%len(perils)]
		c := domain.Catastrophe{
			Name:     fmt.Sprintf("%s (%s, turn %d)", peril.name, state, turn.Number),
			State:    state,
			Lines:    peril.lines,
			Severity: severity,
		}
		if gs.AddCatastrophe(c) {
			p.log.Info().Str("state", state).Str("name", c.Name).Float64("severity", severity).Msg("Catastrophe drawn")
		}
	}

	shock := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(uint64(turn.ID), uint64(semesterID)^shockStream)}
	var drawn []Shock
	for _, seg := range segments {
		if shock.Rand() >= p.settings.ShockProbability {
			continue
		}
		m := p.settings.MinShock + shock.Rand()*(p.settings.MaxShock-p.settings.MinShock)
		gs.ApplyDemandModifier(seg, m)
		drawn = append(drawn, Shock{Segment: seg.String(), Multiplier: m})
	}

	p.mu.Lock()
	p.shocks = drawn
	p.mu.Unlock()
	return nil
}

// OnCatastrophe collects every catastrophe of the turn, scheduled or drawn.
func (p *Plugin) OnCatastrophe(_ context.Context, cat domain.Catastrophe, _ *gamestate.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = append(p.observed, cat)
	return nil
}

// CalculateResults reports the turn's events and the companies they hit.
func (p *Plugin) CalculateResults(_ context.Context, _ *domain.Turn, _ []domain.Company, gs *gamestate.State) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &Results{
		Catastrophes: append([]domain.Catastrophe(nil), p.observed...),
		Shocks:       append([]Shock(nil), p.shocks...),
		AffectedBy:   make(map[string][]int64),
	}
	for _, c := range res.Catastrophes {
		seen := make(map[int64]bool)
		for _, s := range gs.Segments {
			if c.Affects(s.Segment()) && !seen[s.CompanyID] {
				seen[s.CompanyID] = true
				res.AffectedBy[c.Name] = append(res.AffectedBy[c.Name], s.CompanyID)
			}
		}
		sort.Slice(res.AffectedBy[c.Name], func(i, j int) bool { return res.AffectedBy[c.Name][i] < res.AffectedBy[c.Name][j] })
	}
	return res, nil
}

// marketFootprint returns the sorted states and segments companies write in.
func marketFootprint(segments []domain.CompanySegment) ([]string, []domain.Segment) {
	stateSet := make(map[string]bool)
	segSet := make(map[domain.Segment]bool)
	for _, s := range segments {
		stateSet[s.State] = true
		segSet[s.Segment()] = true
	}
	states := make([]string, 0, len(stateSet))
	for s := range stateSet {
		states = append(states, s)
	}
	sort.Strings(states)
	segs := make([]domain.Segment, 0, len(segSet))
	for s := range segSet {
		segs = append(segs, s)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].String() < segs[j].String() })
	return states, segs
}
