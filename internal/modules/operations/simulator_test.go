package operations

import (
	"testing"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/modules/market"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomeWith(shares ...market.CompanyShare) *market.Outcome {
	seg := domain.Segment{State: "TX", Line: domain.LinePersonalAuto}
	return &market.Outcome{Segments: []market.SegmentResult{{Segment: seg, Shares: shares}}}
}

func share(companyID int64, tier domain.ProductTier, premium int64) market.CompanyShare {
	return market.CompanyShare{CompanyID: companyID, Tier: tier, Premium: decimal.NewFromInt(premium)}
}

func TestSimulate_LossRatioWithinNoiseBounds(t *testing.T) {
	cfg := config.DefaultGameConfig().Operations
	sim := NewSimulator(cfg, zerolog.Nop())
	base := cfg.BaseLossRatio[string(domain.LinePersonalAuto)]

	tests := []struct {
		name string
		tier domain.ProductTier
	}{
		{"basic", domain.TierBasic},
		{"standard", domain.TierStandard},
		{"premium", domain.TierPremium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for turn := int64(1); turn <= 20; turn++ {
				res := sim.Simulate(Input{TurnID: turn, CompanyIDs: []int64{7}, Market: outcomeWith(share(7, tt.tier, 100000))})
				seg := res[7].Segments[0]
				lo := base * tt.tier.LossMultiplier() * cfg.NoiseMin
				hi := base * tt.tier.LossMultiplier() * cfg.NoiseMax
				assert.GreaterOrEqual(t, seg.LossRatio, lo-1e-12)
				assert.LessOrEqual(t, seg.LossRatio, hi+1e-12)
			}
		})
	}
}

func TestSimulate_Aggregates(t *testing.T) {
	cfg := config.DefaultGameConfig().Operations
	sim := NewSimulator(cfg, zerolog.Nop())

	res := sim.Simulate(Input{TurnID: 4, CompanyIDs: []int64{1}, Market: outcomeWith(share(1, domain.TierStandard, 200000))})
	r := res[1]
	require.NotNil(t, r)

	assert.True(t, r.PremiumsWritten.Equal(decimal.NewFromInt(200000)))
	assert.True(t, r.Expenses.Equal(decimal.NewFromInt(50000)), r.Expenses.String())
	assert.True(t, r.UnderwritingResult.Equal(r.PremiumsWritten.Sub(r.Claims).Sub(r.Expenses)))
	require.NotNil(t, r.LossRatio)
	require.NotNil(t, r.ExpenseRatio)
	require.NotNil(t, r.CombinedRatio)
	assert.InDelta(t, 0.25, *r.ExpenseRatio, 1e-12)
	assert.InDelta(t, *r.LossRatio+*r.ExpenseRatio, *r.CombinedRatio, 1e-12)
}

func TestSimulate_ZeroPremiumHasNoRatios(t *testing.T) {
	sim := NewSimulator(config.DefaultGameConfig().Operations, zerolog.Nop())

	res := sim.Simulate(Input{TurnID: 1, CompanyIDs: []int64{1, 2}, Market: outcomeWith(share(1, domain.TierStandard, 1000))})

	idle := res[2]
	require.NotNil(t, idle)
	assert.True(t, idle.PremiumsWritten.IsZero())
	assert.Nil(t, idle.LossRatio)
	assert.Nil(t, idle.ExpenseRatio)
	assert.Nil(t, idle.CombinedRatio)
	assert.True(t, idle.Shortfall().IsZero())
}

func TestSimulate_Deterministic(t *testing.T) {
	sim := NewSimulator(config.DefaultGameConfig().Operations, zerolog.Nop())
	in := Input{TurnID: 9, CompanyIDs: []int64{3}, Market: outcomeWith(share(3, domain.TierBasic, 12345))}

	a := sim.Simulate(in)[3]
	b := sim.Simulate(in)[3]
	assert.True(t, a.Claims.Equal(b.Claims))
}

func TestSimulate_CatastropheRaisesClaims(t *testing.T) {
	sim := NewSimulator(config.DefaultGameConfig().Operations, zerolog.Nop())
	in := Input{TurnID: 2, CompanyIDs: []int64{1}, Market: outcomeWith(share(1, domain.TierStandard, 100000))}

	calm := sim.Simulate(in)[1]
	in.Catastrophes = []domain.Catastrophe{{Name: "Hurricane", State: "TX", Severity: 2.5}}
	hit := sim.Simulate(in)[1]

	assert.Equal(t, "Hurricane", hit.Segments[0].Catastrophe)
	assert.InDelta(t, calm.Segments[0].LossRatio*2.5, hit.Segments[0].LossRatio, 1e-9)
	assert.True(t, hit.Shortfall().IsPositive())
	assert.True(t, hit.Shortfall().Equal(hit.UnderwritingResult.Neg()))
}

func TestSimulate_CatastropheOtherStateIgnored(t *testing.T) {
	sim := NewSimulator(config.DefaultGameConfig().Operations, zerolog.Nop())
	in := Input{
		TurnID:       2,
		CompanyIDs:   []int64{1},
		Market:       outcomeWith(share(1, domain.TierStandard, 100000)),
		Catastrophes: []domain.Catastrophe{{Name: "Quake", State: "CA", Severity: 3}},
	}
	res := sim.Simulate(in)[1]
	assert.Empty(t, res.Segments[0].Catastrophe)
}

func TestSimulate_NilMarket(t *testing.T) {
	sim := NewSimulator(config.DefaultGameConfig().Operations, zerolog.Nop())
	res := sim.Simulate(Input{TurnID: 1, CompanyIDs: []int64{1}})
	require.Contains(t, res, int64(1))
	assert.Empty(t, res[1].Segments)
	assert.True(t, res[1].UnderwritingResult.IsZero())
}
