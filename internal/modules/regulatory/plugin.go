// Package regulatory implements the RegulatoryCompliance plugin. It checks
// pricing against state rate bands, keeps a solvency watchlist and fines
// companies for violations.
package regulatory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Name is the plugin name other plugins depend on.
const Name = "RegulatoryCompliance"

// WatchlistKey is the game state key under which the watchlist ([]int64) is shared.
const WatchlistKey = "watchlist"

const (
	KindRateBand     = "rate_band"
	KindCapitalWatch = "capital_watch"
)

// Band is the allowed price multiplier range in a state.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether multiplier is inside the band.
func (b Band) Contains(multiplier float64) bool {
	return multiplier >= b.Min && multiplier <= b.Max
}

// Settings is the plugin_config section of the plugin.
type Settings struct {
	DefaultBand    Band            `yaml:"default_band"`
	StateBands     map[string]Band `yaml:"state_bands"`
	ViolationFine  float64         `yaml:"violation_fine"`
	WatchRatio     float64         `yaml:"watch_ratio"`     // solvency ratio below which a company is watched
	WatchSurcharge float64         `yaml:"watch_surcharge"` // share of capital charged per watched turn
}

// DefaultSettings returns the built-in rate bands and fines.
func DefaultSettings() Settings {
	return Settings{
		DefaultBand: Band{Min: 0.7, Max: 1.6},
		StateBands: map[string]Band{
			"CA": {Min: 0.8, Max: 1.4},
			"NY": {Min: 0.8, Max: 1.5},
			"FL": {Min: 0.75, Max: 1.8},
		},
		ViolationFine:  50000,
		WatchRatio:     1.2,
		WatchSurcharge: 0.005,
	}
}

// BandFor returns the band of a state.
func (s Settings) BandFor(state string) Band {
	if b, ok := s.StateBands[state]; ok {
		return b
	}
	return s.DefaultBand
}

func (s Settings) validate() error {
	bands := map[string]Band{"default": s.DefaultBand}
	for state, b := range s.StateBands {
		bands[state] = b
	}
	for state, b := range bands {
		if b.Min <= 0 || b.Min > b.Max {
			return fmt.Errorf("rate band %s [%v, %v] is invalid", state, b.Min, b.Max)
		}
	}
	if s.ViolationFine < 0 || s.WatchSurcharge < 0 {
		return errors.New("fines must not be negative")
	}
	return nil
}

// Finding is one compliance issue of a company in a turn.
type Finding struct {
	CompanyID int64           `json:"company_id"`
	Kind      string          `json:"kind"`
	Detail    string          `json:"detail"`
	Fine      decimal.Decimal `json:"fine"`
}

// Results is the plugin's contribution to the turn results.
type Results struct {
	Findings  []Finding                 `json:"findings"`
	Fines     map[int64]decimal.Decimal `json:"fines"`
	Watchlist []int64                   `json:"watchlist"`
}

// CapitalAdjustments charges the fines against capital.
func (r *Results) CapitalAdjustments() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(r.Fines))
	for id, fine := range r.Fines {
		out[id] = fine.Neg()
	}
	return out
}

// Plugin is the RegulatoryCompliance plugin.
type Plugin struct {
	plugins.Base
	audits     *AuditRepository
	settings   Settings
	minCapital decimal.Decimal
	now        func() time.Time
	log        zerolog.Logger
}

// New creates the plugin over its audit repository.
func New(audits *AuditRepository, log zerolog.Logger) *Plugin {
	return &Plugin{
		Base:     plugins.Base{PluginName: Name, PluginVersion: "1.2.0"},
		audits:   audits,
		settings: DefaultSettings(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("plugin", Name).Logger(),
	}
}

// NewFactory returns the registry factory for the plugin.
func NewFactory(db *sql.DB, log zerolog.Logger) plugins.Factory {
	return func() (plugins.Plugin, error) {
		if db == nil {
			return nil, errors.New("regulatory: database is required")
		}
		return New(NewAuditRepository(db, log), log), nil
	}
}

// Initialize loads settings and prepares the audit table.
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
	return p.audits.EnsureSchema(ctx)
}

// Settings returns the active settings.
func (p *Plugin) Settings() Settings {
	return p.settings
}

// OnTurnStart publishes the watchlist: companies whose last solvency ratio
// is below the watch ratio.
func (p *Plugin) OnTurnStart(_ context.Context, turn *domain.Turn, gs *gamestate.State) error {
	var watch []int64
	for _, c := range gs.Companies {
		if c.SolvencyRatio != nil && *c.SolvencyRatio < p.settings.WatchRatio {
			watch = append(watch, c.ID)
		}
	}
	gs.Put(Name, WatchlistKey, watch)
	if len(watch) > 0 {
		p.log.Info().Int64("turn_id", turn.ID).Ints64("companies", watch).Msg("Companies on solvency watch")
	}
	return nil
}

// OnDecisionSubmitted checks pricing against the rate bands of every state it
// applies to, and capital against the regulatory minimum.
func (p *Plugin) OnDecisionSubmitted(_ context.Context, company *domain.Company, d *domain.Decision, gs *gamestate.State) (*plugins.ValidationResult, error) {
	res := &plugins.ValidationResult{}
	var findings []Finding

	for i, pricing := range d.Decisions.Pricing {
		for _, state := range pricedStates(company.ID, pricing, gs.Segments) {
			band := p.settings.BandFor(state)
			if band.Contains(pricing.PriceMultiplier) {
				continue
			}
			detail := fmt.Sprintf("%s:%s %.2f outside [%.2f, %.2f]", state, pricing.Line, pricing.PriceMultiplier, band.Min, band.Max)
			res.Add(Name, fmt.Sprintf("pricing[%d]", i), "rate filing rejected: "+detail)
			findings = append(findings, Finding{
				CompanyID: company.ID,
				Kind:      KindRateBand,
				Detail:    detail,
				Fine:      decimal.NewFromFloat(p.settings.ViolationFine),
			})
		}
	}

	if p.minCapital.IsPositive() && company.CurrentCapital.LessThan(p.minCapital) {
		res.Add(Name, "capital", fmt.Sprintf("capital %s is below the regulatory minimum %s",
			company.CurrentCapital.StringFixed(0), p.minCapital.StringFixed(0)))
	}

	gs.Put(Name, violationsKey(company.ID), findings)
	return res, nil
}

// CalculateResults turns violations and the watchlist into fines.
func (p *Plugin) CalculateResults(_ context.Context, turn *domain.Turn, companies []domain.Company, gs *gamestate.State) (any, error) {
	watched := make(map[int64]bool)
	if v, ok := gs.Get(Name, WatchlistKey); ok {
		for _, id := range v.([]int64) {
			watched[id] = true
		}
	}

	res := &Results{Fines: make(map[int64]decimal.Decimal)}
	sorted := append([]domain.Company(nil), companies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, c := range sorted {
		var findings []Finding
		if v, ok := gs.Get(Name, violationsKey(c.ID)); ok {
			findings = append(findings, v.([]Finding)...)
		}
		if watched[c.ID] {
			res.Watchlist = append(res.Watchlist, c.ID)
			surcharge := c.CurrentCapital.Mul(decimal.NewFromFloat(p.settings.WatchSurcharge)).Round(2)
			if surcharge.IsPositive() {
				findings = append(findings, Finding{
					CompanyID: c.ID,
					Kind:      KindCapitalWatch,
					Detail:    fmt.Sprintf("solvency ratio %.2f below %.2f", ratioOf(c), p.settings.WatchRatio),
					Fine:      surcharge,
				})
			}
		}

		total := decimal.Zero
		for _, f := range findings {
			total = total.Add(f.Fine)
		}
		if total.IsPositive() {
			res.Fines[c.ID] = total
		}
		res.Findings = append(res.Findings, findings...)
	}

	p.log.Debug().Int64("turn_id", turn.ID).Int("findings", len(res.Findings)).Msg("Compliance results calculated")
	return res, nil
}

// OnTurnComplete writes the turn's findings to the audit trail.
func (p *Plugin) OnTurnComplete(ctx context.Context, turn *domain.Turn, results map[string]any, _ *gamestate.State) error {
	res, ok := results[Name].(*Results)
	if !ok || len(res.Findings) == 0 {
		return nil
	}
	_, err := p.audits.Record(ctx, turn.ID, res.Findings, p.now())
	return err
}

func violationsKey(companyID int64) string {
	return fmt.Sprintf("violations/%d", companyID)
}

// pricedStates lists the states a pricing entry applies to. An entry without
// a state covers the line in every state the company writes it.
func pricedStates(companyID int64, pricing domain.PricingDecision, segments []domain.CompanySegment) []string {
	if pricing.State != "" {
		return []string{pricing.State}
	}
	var states []string
	for _, s := range segments {
		if s.CompanyID == companyID && s.Line == pricing.Line {
			states = append(states, s.State)
		}
	}
	sort.Strings(states)
	return states
}

func ratioOf(c domain.Company) float64 {
	if c.SolvencyRatio == nil {
		return 0
	}
	return *c.SolvencyRatio
}
