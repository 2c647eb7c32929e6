package market

import (
	"context"
	"testing"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryConditions struct {
	rows  map[domain.Segment]*domain.MarketCondition
	calls int
}

func newMemoryConditions() *memoryConditions {
	return &memoryConditions{rows: make(map[domain.Segment]*domain.MarketCondition)}
}

func (m *memoryConditions) GetOrCreate(_ context.Context, mc *domain.MarketCondition) (*domain.MarketCondition, error) {
	m.calls++
	if existing, ok := m.rows[mc.Segment()]; ok {
		return existing, nil
	}
	cp := *mc
	m.rows[mc.Segment()] = &cp
	return &cp, nil
}

func pricing(companyID int64, line domain.LineOfBusiness, multiplier float64) *domain.Decision {
	return &domain.Decision{
		CompanyID: companyID,
		Decisions: domain.DecisionBag{
			Pricing: []domain.PricingDecision{{Line: line, PriceMultiplier: multiplier}},
		},
	}
}

func TestComputeShares_TwoCompanyExample(t *testing.T) {
	prices := []decimal.Decimal{decimal.NewFromInt(900), decimal.NewFromInt(1100)}

	shares, mean, err := ComputeShares(prices, ShareParams{Elasticity: -1.5, MinShare: 0.01, MaxShare: 0.90})
	require.NoError(t, err)

	assert.True(t, mean.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "0.425", shares[0].String())
	assert.Equal(t, "0.575", shares[1].String())
}

func TestComputeShares_Clamped(t *testing.T) {
	prices := []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(5000)}

	shares, _, err := ComputeShares(prices, ShareParams{Elasticity: 3, MinShare: 0.01, MaxShare: 0.90})
	require.NoError(t, err)

	for _, s := range shares {
		assert.True(t, s.GreaterThanOrEqual(decimal.NewFromFloat(0.01)), s.String())
		assert.True(t, s.LessThanOrEqual(decimal.NewFromFloat(0.90)), s.String())
	}
	assert.Equal(t, "0.9", shares[0].String())
	assert.Equal(t, "0.01", shares[1].String())
}

func TestComputeShares_RejectsNonPositivePrice(t *testing.T) {
	_, _, err := ComputeShares([]decimal.Decimal{decimal.Zero}, ShareParams{MinShare: 0.01, MaxShare: 0.9})
	assert.ErrorIs(t, err, ErrNonPositivePrice)
}

func TestComputeShares_Empty(t *testing.T) {
	shares, mean, err := ComputeShares(nil, ShareParams{})
	require.NoError(t, err)
	assert.Empty(t, shares)
	assert.True(t, mean.IsZero())
}

func TestSimulate_TwoCompanySegment(t *testing.T) {
	cfg := config.DefaultGameConfig().Market
	conditions := newMemoryConditions()
	// Pre-seed the scenario condition: demand 1,000,000 and elasticity -1.5.
	seg := domain.Segment{State: "CA", Line: domain.LinePersonalAuto}
	conditions.rows[seg] = &domain.MarketCondition{
		TurnID: 1, State: "CA", Line: domain.LinePersonalAuto,
		BaseDemand: decimal.NewFromInt(1_000_000), PriceElasticity: -1.5,
	}

	sim := NewSimulator(cfg, conditions, zerolog.Nop())
	outcome, err := sim.Simulate(context.Background(), Input{
		TurnID: 1,
		Segments: []domain.CompanySegment{
			{CompanyID: 1, State: "CA", Line: domain.LinePersonalAuto, Tier: domain.TierStandard},
			{CompanyID: 2, State: "CA", Line: domain.LinePersonalAuto, Tier: domain.TierStandard},
		},
		Decisions: map[int64]*domain.Decision{
			1: pricing(1, domain.LinePersonalAuto, 0.9),
			2: pricing(2, domain.LinePersonalAuto, 1.1),
		},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Segments, 1)

	premiums := outcome.PremiumByCompany()
	assert.True(t, premiums[1].Equal(decimal.NewFromInt(425_000)), premiums[1].String())
	assert.True(t, premiums[2].Equal(decimal.NewFromInt(575_000)), premiums[2].String())
	assert.True(t, outcome.TotalPremium().Equal(decimal.NewFromInt(1_000_000)))
	assert.InDelta(t, 0.425, outcome.SharesFor(1)["CA:personal_auto"], 1e-12)
	assert.InDelta(t, 1000.0, outcome.AveragePrice(), 1e-9)
}

func TestSimulate_DefaultsWithoutDecision(t *testing.T) {
	cfg := config.DefaultGameConfig().Market
	conditions := newMemoryConditions()
	sim := NewSimulator(cfg, conditions, zerolog.Nop())

	outcome, err := sim.Simulate(context.Background(), Input{
		TurnID: 3,
		Segments: []domain.CompanySegment{
			{CompanyID: 1, State: "CA", Line: domain.LineHomeowners, Tier: domain.TierStandard},
			{CompanyID: 2, State: "CA", Line: domain.LineHomeowners, Tier: domain.TierBasic},
			{CompanyID: 3, State: "CA", Line: domain.LineHomeowners, Tier: domain.TierPremium},
		},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Segments, 1)

	res := outcome.Segments[0]
	expectedDemand := decimal.NewFromFloat(cfg.BaseDemand[string(domain.LineHomeowners)]).Mul(decimal.NewFromFloat(cfg.StateSize["CA"]))
	assert.True(t, res.Demand.Equal(expectedDemand), res.Demand.String())
	for _, s := range res.Shares {
		assert.Equal(t, domain.DefaultPriceMultiplier, s.PriceMultiplier)
		assert.Equal(t, domain.DefaultExpectedLossRatio, s.ExpectedLossRatio)
		assert.True(t, s.EffectivePrice.Equal(decimal.NewFromFloat(cfg.BasePrice[string(domain.LineHomeowners)])))
	}
	assert.Zero(t, res.PriceStdDev)
	assert.Equal(t, 1, conditions.calls)
}

func TestEffectivePricing(t *testing.T) {
	seg := domain.Segment{State: "CA", Line: domain.LineHomeowners}
	tests := []struct {
		name       string
		decision   *domain.Decision
		multiplier float64
		lossRatio  float64
	}{
		{"no decision", nil, domain.DefaultPriceMultiplier, domain.DefaultExpectedLossRatio},
		{"other line only", pricing(1, domain.LinePersonalAuto, 1.4), domain.DefaultPriceMultiplier, domain.DefaultExpectedLossRatio},
		{"multiplier without loss ratio", pricing(1, domain.LineHomeowners, 1.2), 1.2, domain.DefaultExpectedLossRatio},
		{"both given", &domain.Decision{CompanyID: 1, Decisions: domain.DecisionBag{Pricing: []domain.PricingDecision{
			{State: "CA", Line: domain.LineHomeowners, PriceMultiplier: 0.9, ExpectedLossRatio: 0.7},
		}}}, 0.9, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectivePricing(tt.decision, seg)
			assert.Equal(t, tt.multiplier, got.PriceMultiplier)
			assert.Equal(t, tt.lossRatio, got.ExpectedLossRatio)
		})
	}
}

func TestSimulate_PremiumSumMatchesShares(t *testing.T) {
	cfg := config.DefaultGameConfig().Market
	sim := NewSimulator(cfg, newMemoryConditions(), zerolog.Nop())

	multipliers := []float64{0.5, 0.8, 1.0, 1.3, 2.0}
	var segments []domain.CompanySegment
	decisions := make(map[int64]*domain.Decision)
	for i, m := range multipliers {
		id := int64(i + 1)
		for _, state := range []string{"TX", "NY"} {
			segments = append(segments, domain.CompanySegment{CompanyID: id, State: state, Line: domain.LineGeneralLiability, Tier: domain.TierStandard})
		}
		decisions[id] = pricing(id, domain.LineGeneralLiability, m)
	}

	outcome, err := sim.Simulate(context.Background(), Input{TurnID: 1, Segments: segments, Decisions: decisions})
	require.NoError(t, err)
	require.Len(t, outcome.Segments, 2)

	lo, hi := decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.90)
	for _, seg := range outcome.Segments {
		sumShares, sumPremium := decimal.Zero, decimal.Zero
		for _, s := range seg.Shares {
			assert.True(t, s.Share.GreaterThanOrEqual(lo) && s.Share.LessThanOrEqual(hi), s.Share.String())
			sumShares = sumShares.Add(s.Share)
			sumPremium = sumPremium.Add(s.Premium)
		}
		assert.True(t, sumPremium.Equal(seg.Demand.Mul(sumShares)), "segment %s", seg.Segment)
		assert.Greater(t, seg.PriceStdDev, 0.0)
	}
}

func TestSimulate_DemandModifierScalesDemand(t *testing.T) {
	cfg := config.DefaultGameConfig().Market
	conditions := newMemoryConditions()
	sim := NewSimulator(cfg, conditions, zerolog.Nop())
	seg := domain.Segment{State: "FL", Line: domain.LineHomeowners}

	outcome, err := sim.Simulate(context.Background(), Input{
		TurnID:          1,
		Segments:        []domain.CompanySegment{{CompanyID: 1, State: "FL", Line: domain.LineHomeowners, Tier: domain.TierStandard}},
		DemandModifiers: map[domain.Segment]float64{seg: 0.5},
	})
	require.NoError(t, err)

	stored := conditions.rows[seg]
	require.NotNil(t, stored)
	assert.True(t, outcome.Segments[0].Demand.Equal(stored.BaseDemand.Mul(decimal.NewFromFloat(0.5))))
	// A lone competitor is capped at the share ceiling.
	assert.Equal(t, "0.9", outcome.Segments[0].Shares[0].Share.String())
}

func TestSimulate_NoSegments(t *testing.T) {
	sim := NewSimulator(config.DefaultGameConfig().Market, newMemoryConditions(), zerolog.Nop())
	outcome, err := sim.Simulate(context.Background(), Input{TurnID: 1})
	require.NoError(t, err)
	assert.Empty(t, outcome.Segments)
	assert.True(t, outcome.TotalPremium().IsZero())
}
