// Package market allocates segment demand between competing companies.
package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// ConditionStore persists market conditions per (turn, segment).
type ConditionStore interface {
	GetOrCreate(ctx context.Context, mc *domain.MarketCondition) (*domain.MarketCondition, error)
}

// Input is everything the market stage reads.
type Input struct {
	TurnID          int64
	Segments        []domain.CompanySegment
	Decisions       map[int64]*domain.Decision
	DemandModifiers map[domain.Segment]float64
}

// CompanyShare is one company's allocation in a segment.
type CompanyShare struct {
	CompanyID       int64              `json:"company_id"`
	Tier            domain.ProductTier `json:"tier"`
	PriceMultiplier float64            `json:"price_multiplier"`
	// Loss ratio the company priced for; the baseline assumption when it
	// submitted none.
	ExpectedLossRatio float64         `json:"expected_loss_ratio"`
	EffectivePrice    decimal.Decimal `json:"effective_price"`
	Share             decimal.Decimal `json:"share"`
	Premium           decimal.Decimal `json:"premium"`
}

// SegmentResult is the allocation of one segment.
type SegmentResult struct {
	Segment     domain.Segment         `json:"segment"`
	Condition   domain.MarketCondition `json:"condition"`
	Demand      decimal.Decimal        `json:"demand"` // base demand after demand modifiers
	MeanPrice   decimal.Decimal        `json:"mean_price"`
	PriceStdDev float64                `json:"price_std_dev"`
	Shares      []CompanyShare         `json:"shares"`
}

// Outcome is the market stage output for a turn.
type Outcome struct {
	Segments []SegmentResult `json:"segments"`
}

// PremiumByCompany sums each company's premium across segments.
func (o *Outcome) PremiumByCompany() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	for _, seg := range o.Segments {
		for _, s := range seg.Shares {
			out[s.CompanyID] = out[s.CompanyID].Add(s.Premium)
		}
	}
	return out
}

// SharesFor returns a company's share per segment, keyed by Segment.String().
func (o *Outcome) SharesFor(companyID int64) map[string]float64 {
	out := make(map[string]float64)
	for _, seg := range o.Segments {
		for _, s := range seg.Shares {
			if s.CompanyID == companyID {
				out[seg.Segment.String()] = s.Share.InexactFloat64()
			}
		}
	}
	return out
}

// AllocationsFor returns a company's allocation in every segment it competes in.
func (o *Outcome) AllocationsFor(companyID int64) []Allocation {
	var out []Allocation
	for _, seg := range o.Segments {
		for _, s := range seg.Shares {
			if s.CompanyID == companyID {
				out = append(out, Allocation{Segment: seg.Segment, CompanyShare: s})
			}
		}
	}
	return out
}

// Allocation pairs a company share with its segment.
type Allocation struct {
	Segment domain.Segment
	CompanyShare
}

// TotalPremium is the premium written across the whole market.
func (o *Outcome) TotalPremium() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.PremiumByCompany() {
		total = total.Add(p)
	}
	return total
}

// AveragePrice is the unweighted mean of segment mean prices.
func (o *Outcome) AveragePrice() float64 {
	if len(o.Segments) == 0 {
		return 0
	}
	means := make([]float64, len(o.Segments))
	for i, seg := range o.Segments {
		means[i] = seg.MeanPrice.InexactFloat64()
	}
	return stat.Mean(means, nil)
}

// Simulator runs the market stage.
type Simulator struct {
	cfg        config.MarketConfig
	conditions ConditionStore
	log        zerolog.Logger
}

// NewSimulator creates a market simulator.
func NewSimulator(cfg config.MarketConfig, conditions ConditionStore, log zerolog.Logger) *Simulator {
	return &Simulator{
		cfg:        cfg,
		conditions: conditions,
		log:        log.With().Str("component", "market_simulator").Logger(),
	}
}

// Simulate allocates every segment with at least one competitor.
func (s *Simulator) Simulate(ctx context.Context, in Input) (*Outcome, error) {
	bySegment := make(map[domain.Segment][]domain.CompanySegment)
	for _, cs := range in.Segments {
		seg := cs.Segment()
		bySegment[seg] = append(bySegment[seg], cs)
	}

	keys := make([]domain.Segment, 0, len(bySegment))
	for seg := range bySegment {
		keys = append(keys, seg)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	outcome := &Outcome{Segments: make([]SegmentResult, 0, len(keys))}
	for _, seg := range keys {
		competitors := bySegment[seg]
		if len(competitors) == 0 {
			continue
		}
		sort.Slice(competitors, func(i, j int) bool { return competitors[i].CompanyID < competitors[j].CompanyID })

		result, err := s.simulateSegment(ctx, in, seg, competitors)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg, err)
		}
		outcome.Segments = append(outcome.Segments, *result)
	}

	s.log.Debug().
		Int64("turn_id", in.TurnID).
		Int("segments", len(outcome.Segments)).
		Str("total_premium", outcome.TotalPremium().StringFixed(2)).
		Msg("Market simulated")
	return outcome, nil
}

func (s *Simulator) simulateSegment(ctx context.Context, in Input, seg domain.Segment, competitors []domain.CompanySegment) (*SegmentResult, error) {
	cond, err := s.conditions.GetOrCreate(ctx, s.defaultCondition(in.TurnID, seg))
	if err != nil {
		return nil, err
	}

	demand := cond.BaseDemand
	if m, ok := in.DemandModifiers[seg]; ok && m > 0 {
		demand = demand.Mul(decimal.NewFromFloat(m))
	}

	basePrice := decimal.NewFromFloat(s.cfg.BasePrice[string(seg.Line)])
	if !basePrice.IsPositive() {
		return nil, fmt.Errorf("no base price for line %s", seg.Line)
	}

	prices := make([]decimal.Decimal, len(competitors))
	pricing := make([]domain.PricingDecision, len(competitors))
	floatPrices := make([]float64, len(competitors))
	for i, c := range competitors {
		pricing[i] = effectivePricing(in.Decisions[c.CompanyID], seg)
		prices[i] = basePrice.Mul(decimal.NewFromFloat(pricing[i].PriceMultiplier))
		floatPrices[i] = prices[i].InexactFloat64()
	}

	shares, mean, err := ComputeShares(prices, ShareParams{
		Elasticity: cond.PriceElasticity,
		MinShare:   s.cfg.MinShare,
		MaxShare:   s.cfg.MaxShare,
	})
	if err != nil {
		return nil, err
	}

	result := &SegmentResult{
		Segment:   seg,
		Condition: *cond,
		Demand:    demand,
		MeanPrice: mean,
		Shares:    make([]CompanyShare, len(competitors)),
	}
	if len(floatPrices) > 1 {
		result.PriceStdDev = stat.StdDev(floatPrices, nil)
	}
	for i, c := range competitors {
		result.Shares[i] = CompanyShare{
			CompanyID:         c.CompanyID,
			Tier:              c.Tier,
			PriceMultiplier:   pricing[i].PriceMultiplier,
			ExpectedLossRatio: pricing[i].ExpectedLossRatio,
			EffectivePrice:    prices[i],
			Share:             shares[i],
			Premium:           demand.Mul(shares[i]),
		}
	}
	return result, nil
}

func (s *Simulator) defaultCondition(turnID int64, seg domain.Segment) *domain.MarketCondition {
	size, ok := s.cfg.StateSize[seg.State]
	if !ok {
		size = s.cfg.DefaultStateSize
	}
	if size <= 0 {
		size = 1
	}
	demand := decimal.NewFromFloat(s.cfg.BaseDemand[string(seg.Line)]).Mul(decimal.NewFromFloat(size))
	return &domain.MarketCondition{
		TurnID:               turnID,
		State:                seg.State,
		Line:                 seg.Line,
		BaseDemand:           demand,
		PriceElasticity:      s.cfg.PriceElasticity,
		CompetitiveIntensity: s.cfg.CompetitiveIntensity,
	}
}

// effectivePricing falls back to the baseline when the company priced nothing
// for the segment.
func effectivePricing(d *domain.Decision, seg domain.Segment) domain.PricingDecision {
	out := domain.PricingDecision{
		State:             seg.State,
		Line:              seg.Line,
		PriceMultiplier:   domain.DefaultPriceMultiplier,
		ExpectedLossRatio: domain.DefaultExpectedLossRatio,
	}
	if d == nil {
		return out
	}
	p, ok := d.Decisions.PricingFor(seg)
	if !ok {
		return out
	}
	if p.PriceMultiplier > 0 {
		out.PriceMultiplier = p.PriceMultiplier
	}
	if p.ExpectedLossRatio > 0 {
		out.ExpectedLossRatio = p.ExpectedLossRatio
	}
	return out
}
