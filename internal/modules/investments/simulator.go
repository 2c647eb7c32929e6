package investments

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Seed streams, so returns and perception draw independent numbers for the
// same (turn, company).
const (
	returnStream     = 0x7265
	perceptionStream = 0x7065
)

// CompanyResult is one company's investment outcome for the turn.
type CompanyResult struct {
	CompanyID        int64                      `json:"company_id"`
	Portfolio        domain.InvestmentPortfolio `json:"portfolio"`
	StartingValue    decimal.Decimal            `json:"starting_value"`
	ExpectedReturn   float64                    `json:"expected_return"` // annual
	MarketMultiplier float64                    `json:"market_multiplier"`
	Income           decimal.Decimal            `json:"income"`
	Liquidation      *domain.LiquidationEvent   `json:"liquidation,omitempty"`
}

// LiquidationCost is the discount lost to the forced sale, zero without one.
func (r *CompanyResult) LiquidationCost() decimal.Decimal {
	if r.Liquidation == nil {
		return decimal.Zero
	}
	return r.Liquidation.DiscountCost
}

// Input is everything the investment stage reads.
type Input struct {
	SemesterID int64
	TurnID     int64
	TurnNumber int
	Companies  []*domain.Company
	// Latest portfolio before this turn, absent for a company's first turn.
	Previous map[int64]*domain.InvestmentPortfolio
	// Cash each company must raise, from operations.
	Shortfalls map[int64]decimal.Decimal
	// Characteristics the company asked to steer toward.
	Targets map[int64]domain.Characteristics
	// Companies with a segment hit by a catastrophe this turn.
	CatastropheHit map[int64]bool
}

// Simulator runs the investment stage.
type Simulator struct {
	cfg config.InvestmentsConfig
	now func() time.Time
	log zerolog.Logger
}

// NewSimulator creates an investment simulator.
func NewSimulator(cfg config.InvestmentsConfig, log zerolog.Logger) *Simulator {
	return &Simulator{
		cfg: cfg,
		now: time.Now,
		log: log.With().Str("component", "investment_simulator").Logger(),
	}
}

func (s *Simulator) returnParams() ReturnParams {
	return ReturnParams{
		RiskFreeRate:   s.cfg.RiskFreeRate,
		MaxRiskPremium: s.cfg.MaxRiskPremium,
		ShockStdDev:    s.cfg.ShockStdDev,
	}
}

func (s *Simulator) perceptionParams() PerceptionParams {
	return PerceptionParams{
		Noise:        s.cfg.PerceptionNoise,
		Bias:         s.cfg.PerceptionBias,
		PerfectSkill: s.cfg.PerfectSkill,
	}
}

func (s *Simulator) liquidationParams() LiquidationParams {
	return LiquidationParams{
		MaxSizePenalty:      s.cfg.MaxSizePenalty,
		SizePenaltyFloor:    s.cfg.SizePenaltyFloor,
		MaxExecutionPenalty: s.cfg.MaxExecutionPenalty,
	}
}

// Run computes every company's portfolio for the turn.
func (s *Simulator) Run(in Input) (map[int64]*CompanyResult, error) {
	index := MarketIndex(in.SemesterID, in.TurnNumber, s.cfg.IndexHistoryWeeks)
	multiplier := MarketMultiplier(index, s.cfg.TrendPeriod)

	results := make(map[int64]*CompanyResult, len(in.Companies))
	for _, company := range in.Companies {
		res, err := s.runCompany(in, company, multiplier)
		if err != nil {
			return nil, fmt.Errorf("company %d: %w", company.ID, err)
		}
		results[company.ID] = res
	}

	s.log.Debug().
		Int64("turn_id", in.TurnID).
		Float64("market_multiplier", multiplier).
		Int("companies", len(results)).
		Msg("Investments simulated")
	return results, nil
}

func (s *Simulator) runCompany(in Input, company *domain.Company, multiplier float64) (*CompanyResult, error) {
	portfolio := s.startingPortfolio(in, company)
	res := &CompanyResult{
		CompanyID:        company.ID,
		StartingValue:    portfolio.TotalValue,
		MarketMultiplier: multiplier,
	}

	if target, ok := in.Targets[company.ID]; ok {
		portfolio.Actual = Rebalance(portfolio.Actual, target, company.CFOSkill)
	}

	params := s.returnParams()
	res.ExpectedReturn = ExpectedReturn(portfolio.Actual, params)
	rate := RealizedReturn(portfolio.Actual, params, multiplier, rand.NewPCG(uint64(in.TurnID), uint64(company.ID)^returnStream))
	res.Income = portfolio.TotalValue.Mul(decimal.NewFromFloat(rate)).Round(2)
	portfolio.RealizedReturn = rate
	portfolio.TotalValue = portfolio.TotalValue.Add(res.Income)
	scaleHoldings(&portfolio, res.StartingValue)

	if shortfall := in.Shortfalls[company.ID]; shortfall.IsPositive() && portfolio.TotalValue.IsPositive() {
		req := LiquidationRequest{
			CompanyID: company.ID,
			TurnID:    in.TurnID,
			Trigger:   domain.TriggerCashShortfall,
			Amount:    shortfall,
			Portfolio: portfolio,
			CFOSkill:  company.CFOSkill,
			Urgency:   1,
		}
		if in.CatastropheHit[company.ID] {
			req.Trigger = domain.TriggerCatastrophe
			req.Urgency = s.cfg.CatastropheUrgency
		}
		event, after, err := Liquidate(req, s.liquidationParams(), s.now())
		if err != nil {
			return nil, err
		}
		res.Liquidation = event
		portfolio = after
	}

	portfolio.Perceived = Perceive(portfolio.Actual, company.CFOSkill, s.perceptionParams(),
		rand.NewPCG(uint64(in.TurnID), uint64(company.ID)^perceptionStream))
	res.Portfolio = portfolio
	return res, nil
}

func (s *Simulator) startingPortfolio(in Input, company *domain.Company) domain.InvestmentPortfolio {
	if prev, ok := in.Previous[company.ID]; ok && prev != nil {
		p := *prev
		p.ID = 0
		p.TurnID = in.TurnID
		p.CFOSkill = company.CFOSkill
		p.Holdings = append([]domain.Holding(nil), prev.Holdings...)
		return p
	}
	value := company.CurrentCapital.Mul(decimal.NewFromFloat(s.cfg.PortfolioShare)).Round(2)
	if value.IsNegative() {
		value = decimal.Zero
	}
	return domain.InvestmentPortfolio{
		CompanyID:  company.ID,
		TurnID:     in.TurnID,
		TotalValue: value,
		Actual:     s.cfg.Default.Clamp(),
		CFOSkill:   company.CFOSkill,
	}
}

// Rebalance moves the actual characteristics toward a target. A skilled CFO
// closes more of the gap in one turn: a quarter at skill 0, three quarters at
// skill 100.
func Rebalance(actual, target domain.Characteristics, skill float64) domain.Characteristics {
	speed := 0.25 + 0.5*math.Max(0, math.Min(100, skill))/100
	a, t := actual.Values(), target.Clamp().Values()
	var out [5]float64
	for i := range a {
		out[i] = a[i] + (t[i]-a[i])*speed
	}
	return domain.CharacteristicsFrom(out).Clamp()
}

// scaleHoldings applies the turn's return to every holding proportionally.
func scaleHoldings(p *domain.InvestmentPortfolio, before decimal.Decimal) {
	if len(p.Holdings) == 0 || !before.IsPositive() {
		return
	}
	factor := p.TotalValue.Div(before)
	for i := range p.Holdings {
		p.Holdings[i].Value = p.Holdings[i].Value.Mul(factor).Round(2)
	}
}
