// Package portfolio implements the Investments plugin. It turns investment
// preference decisions into rebalancing targets, buys CFO training, and
// publishes the CFO report: the portfolio as the CFO perceives it.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/modules/investments"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Name is the plugin name.
const Name = "Investments"

// History returns a company's latest portfolio snapshots, newest first.
type History interface {
	Recent(ctx context.Context, companyID int64, limit int) ([]domain.InvestmentPortfolio, error)
}

// SkillStore persists CFO skill.
type SkillStore interface {
	UpdateCFOSkill(ctx context.Context, companyID int64, skill float64) error
}

// Settings is the plugin_config section of the plugin.
type Settings struct {
	TrainingCostPerPoint float64 `yaml:"training_cost_per_point"`
	MaxSkillGain         float64 `yaml:"max_skill_gain"` // per turn
	MaxSkill             float64 `yaml:"max_skill"`
	ReportWindow         int     `yaml:"report_window"` // turns of realized returns in the report
}

// DefaultSettings returns the built-in training costs and report window.
func DefaultSettings() Settings {
	return Settings{
		TrainingCostPerPoint: 40000,
		MaxSkillGain:         5,
		MaxSkill:             100,
		ReportWindow:         8,
	}
}

func (s Settings) validate() error {
	if s.TrainingCostPerPoint <= 0 {
		return errors.New("training_cost_per_point must be positive")
	}
	if s.MaxSkillGain < 0 || s.MaxSkill <= 0 || s.MaxSkill > 100 {
		return fmt.Errorf("skill limits gain=%v max=%v are invalid", s.MaxSkillGain, s.MaxSkill)
	}
	if s.ReportWindow < 1 {
		return errors.New("report_window must be at least 1")
	}
	return nil
}

// Training is the CFO training bought in a turn.
type Training struct {
	Spent     decimal.Decimal `json:"spent"`
	Points    float64         `json:"points"`
	SkillFrom float64         `json:"skill_from"`
	SkillTo   float64         `json:"skill_to"`
}

// Report is the CFO report of one company. It only holds what the CFO can
// see: perceived characteristics and the returns actually booked.
type Report struct {
	CompanyID               int64                  `json:"company_id"`
	CFOSkill                float64                `json:"cfo_skill"`
	PortfolioValue          decimal.Decimal        `json:"portfolio_value"`
	Perceived               domain.Characteristics `json:"perceived"`
	PerceivedExpectedReturn float64                `json:"perceived_expected_return"` // annual
	RealizedReturn          float64                `json:"realized_return"`           // this turn, weekly
	MeanReturn              float64                `json:"mean_return"`
	ReturnStdDev            float64                `json:"return_std_dev"`
	Turns                   int                    `json:"turns"`
	LiquidationCost         decimal.Decimal        `json:"liquidation_cost"`
}

// Results is the plugin's contribution to the turn results.
type Results struct {
	Reports  map[int64]*Report   `json:"reports"`
	Training map[int64]*Training `json:"training"`
}

// CapitalAdjustments charges training spend against capital.
func (r *Results) CapitalAdjustments() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(r.Training))
	for id, t := range r.Training {
		if t.Spent.IsPositive() {
			out[id] = t.Spent.Neg()
		}
	}
	return out
}

// Plugin is the Investments plugin.
type Plugin struct {
	plugins.Base
	history    History
	skills     SkillStore
	settings   Settings
	params     investments.ReturnParams
	minCapital decimal.Decimal
	log        zerolog.Logger
}

// New creates the plugin.
func New(history History, skills SkillStore, log zerolog.Logger) *Plugin {
	return &Plugin{
		Base:     plugins.Base{PluginName: Name, PluginVersion: "2.0.1"},
		history:  history,
		skills:   skills,
		settings: DefaultSettings(),
		log:      log.With().Str("plugin", Name).Logger(),
	}
}

// NewFactory returns the registry factory for the plugin.
func NewFactory(store *repositories.Store, log zerolog.Logger) plugins.Factory {
	return func() (plugins.Plugin, error) {
		if store == nil {
			return nil, errors.New("portfolio: store is required")
		}
		return New(store.Portfolios, store.Companies, log), nil
	}
}

// Initialize loads settings and the return model of the merged game config.
func (p *Plugin) Initialize(_ context.Context, cfg plugins.PluginConfig) error {
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
		p.params = investments.ReturnParams{
			RiskFreeRate:   cfg.Game.Investments.RiskFreeRate,
			MaxRiskPremium: cfg.Game.Investments.MaxRiskPremium,
			ShockStdDev:    cfg.Game.Investments.ShockStdDev,
		}
		p.minCapital = decimal.NewFromFloat(cfg.Game.Solvency.MinimumCapital)
	}
	return nil
}

// Settings returns the active settings.
func (p *Plugin) Settings() Settings {
	return p.settings
}

// OnDecisionSubmitted accepts an investment target and plans CFO training.
func (p *Plugin) OnDecisionSubmitted(_ context.Context, company *domain.Company, d *domain.Decision, gs *gamestate.State) (*plugins.ValidationResult, error) {
	res := &plugins.ValidationResult{}

	if pref := d.Decisions.Investments; pref != nil {
		if bad := outOfRange(pref.Target); len(bad) > 0 {
			for _, name := range bad {
				res.Add(Name, "investments.target."+name, "must be between 0 and 100")
			}
		} else {
			gs.SetInvestmentTarget(company.ID, pref.Target)
		}
	}

	if hiring := d.Decisions.Hiring; hiring != nil && !hiring.CFOTrainingBudget.IsZero() {
		budget := hiring.CFOTrainingBudget
		switch {
		case budget.IsNegative():
			res.Add(Name, "hiring.cfo_training_budget", "must not be negative")
		case company.CurrentCapital.Sub(budget).LessThan(p.minCapital):
			res.Add(Name, "hiring.cfo_training_budget", fmt.Sprintf("budget %s would leave capital below the minimum %s",
				budget.StringFixed(0), p.minCapital.StringFixed(0)))
		default:
			if t := p.train(company.CFOSkill, budget); t.Points > 0 {
				gs.Put(Name, trainingKey(company.ID), t)
			}
		}
	}
	return res, nil
}

// train converts a budget into skill points. Only the points actually gained
// are paid for.
func (p *Plugin) train(skill float64, budget decimal.Decimal) *Training {
	cost := decimal.NewFromFloat(p.settings.TrainingCostPerPoint)
	affordable := budget.Div(cost).InexactFloat64()
	points := math.Min(affordable, p.settings.MaxSkillGain)
	points = math.Min(points, math.Max(0, p.settings.MaxSkill-skill))
	points = math.Floor(points*100) / 100
	return &Training{
		Spent:     cost.Mul(decimal.NewFromFloat(points)).Round(2),
		Points:    points,
		SkillFrom: skill,
		SkillTo:   skill + points,
	}
}

// CalculateResults builds the CFO reports and collects training spend.
func (p *Plugin) CalculateResults(ctx context.Context, turn *domain.Turn, companies []domain.Company, gs *gamestate.State) (any, error) {
	res := &Results{
		Reports:  make(map[int64]*Report),
		Training: make(map[int64]*Training),
	}
	for _, c := range companies {
		if v, ok := gs.Get(Name, trainingKey(c.ID)); ok {
			res.Training[c.ID] = v.(*Training)
		}

		inv, ok := gs.Investments(c.ID)
		if !ok {
			continue
		}
		report, err := p.report(ctx, c, inv)
		if err != nil {
			return nil, err
		}
		res.Reports[c.ID] = report
	}
	p.log.Debug().Int64("turn_id", turn.ID).Int("reports", len(res.Reports)).Msg("CFO reports calculated")
	return res, nil
}

func (p *Plugin) report(ctx context.Context, c domain.Company, inv *investments.CompanyResult) (*Report, error) {
	r := &Report{
		CompanyID:               c.ID,
		CFOSkill:                c.CFOSkill,
		PortfolioValue:          inv.Portfolio.TotalValue,
		Perceived:               inv.Portfolio.Perceived,
		PerceivedExpectedReturn: investments.ExpectedReturn(inv.Portfolio.Perceived, p.params),
		RealizedReturn:          inv.Portfolio.RealizedReturn,
		LiquidationCost:         inv.LiquidationCost(),
	}

	snapshots, err := p.history.Recent(ctx, c.ID, p.settings.ReportWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio history for company %d: %w", c.ID, err)
	}
	returns := make([]float64, 0, len(snapshots)+1)
	current := false
	for _, s := range snapshots {
		returns = append(returns, s.RealizedReturn)
		if s.TurnID == inv.Portfolio.TurnID {
			current = true
		}
	}
	if !current {
		returns = append(returns, inv.Portfolio.RealizedReturn)
		if len(returns) > p.settings.ReportWindow {
			returns = returns[1:]
		}
	}

	r.Turns = len(returns)
	r.MeanReturn = stat.Mean(returns, nil)
	if len(returns) > 1 {
		r.ReturnStdDev = stat.StdDev(returns, nil)
	}
	return r, nil
}

// OnTurnComplete stores the trained CFO skill. The new skill applies from the
// next turn's investment stage.
func (p *Plugin) OnTurnComplete(ctx context.Context, turn *domain.Turn, results map[string]any, _ *gamestate.State) error {
	res, ok := results[Name].(*Results)
	if !ok || len(res.Training) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(res.Training))
	for id := range res.Training {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		t := res.Training[id]
		if err := p.skills.UpdateCFOSkill(ctx, id, t.SkillTo); err != nil {
			return err
		}
		p.log.Info().
			Int64("turn_id", turn.ID).
			Int64("company_id", id).
			Float64("skill", t.SkillTo).
			Msg("CFO skill improved")
	}
	return nil
}

func trainingKey(companyID int64) string {
	return fmt.Sprintf("training/%d", companyID)
}

func outOfRange(c domain.Characteristics) []string {
	names := [5]string{"risk", "duration", "liquidity", "credit_quality", "diversification"}
	var bad []string
	for i, v := range c.Values() {
		if v < 0 || v > 100 || math.IsNaN(v) {
			bad = append(bad, names[i])
		}
	}
	return bad
}
