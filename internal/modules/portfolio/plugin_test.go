package portfolio

import (
	"context"
	"errors"
	"testing"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/modules/investments"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	snapshots []domain.InvestmentPortfolio
	err       error
}

func (f *fakeHistory) Recent(_ context.Context, _ int64, limit int) ([]domain.InvestmentPortfolio, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.snapshots) > limit {
		return f.snapshots[:limit], nil
	}
	return f.snapshots, nil
}

type fakeSkills struct {
	updated map[int64]float64
}

func (f *fakeSkills) UpdateCFOSkill(_ context.Context, id int64, skill float64) error {
	f.updated[id] = skill
	return nil
}

func setup(t *testing.T, history *fakeHistory) (*Plugin, *fakeSkills) {
	t.Helper()
	skills := &fakeSkills{updated: map[int64]float64{}}
	p := New(history, skills, zerolog.Nop())
	require.NoError(t, p.Initialize(context.Background(), plugins.PluginConfig{Game: config.DefaultGameConfig()}))
	return p, skills
}

func newState(companies ...domain.Company) *gamestate.State {
	return gamestate.New(&domain.Turn{ID: 4, Number: 4}, &domain.Semester{ID: 1}, config.DefaultGameConfig(), companies, nil)
}

func company(skill float64) domain.Company {
	return domain.Company{ID: 1, CFOSkill: skill, CurrentCapital: decimal.NewFromInt(10000000)}
}

func TestInitialize_RejectsBadSettings(t *testing.T) {
	p := New(&fakeHistory{}, &fakeSkills{}, zerolog.Nop())
	err := p.Initialize(context.Background(), plugins.PluginConfig{
		Settings: map[string]any{"training_cost_per_point": 0},
	})
	assert.Error(t, err)

	require.NoError(t, p.Initialize(context.Background(), plugins.PluginConfig{
		Settings: map[string]any{"report_window": 4},
	}))
	assert.Equal(t, 4, p.Settings().ReportWindow)
	assert.Equal(t, 5.0, p.Settings().MaxSkillGain)
}

func TestOnDecisionSubmitted_InvestmentTarget(t *testing.T) {
	p, _ := setup(t, &fakeHistory{})
	c := company(50)

	t.Run("valid target is applied", func(t *testing.T) {
		gs := newState(c)
		target := domain.Characteristics{Risk: 80, Duration: 40, Liquidity: 30, CreditQuality: 60, Diversification: 70}
		d := &domain.Decision{Decisions: domain.DecisionBag{Investments: &domain.InvestmentPreference{Target: target}}}

		res, err := p.OnDecisionSubmitted(context.Background(), &c, d, gs)
		require.NoError(t, err)
		assert.True(t, res.Valid())
		assert.Equal(t, target, gs.InvestmentTargets()[c.ID])
	})

	t.Run("out of range target is rejected", func(t *testing.T) {
		gs := newState(c)
		d := &domain.Decision{Decisions: domain.DecisionBag{Investments: &domain.InvestmentPreference{
			Target: domain.Characteristics{Risk: 120, Liquidity: -5},
		}}}

		res, err := p.OnDecisionSubmitted(context.Background(), &c, d, gs)
		require.NoError(t, err)
		require.Len(t, res.Errors, 2)
		assert.Equal(t, "investments.target.risk", res.Errors[0].Field)
		assert.Equal(t, "investments.target.liquidity", res.Errors[1].Field)
		assert.Empty(t, gs.InvestmentTargets())
	})
}

func TestOnDecisionSubmitted_Training(t *testing.T) {
	p, _ := setup(t, &fakeHistory{})

	tests := []struct {
		name   string
		skill  float64
		budget int64
		points float64
		spent  int64
		errors int
	}{
		{"partial points", 50, 100000, 2.5, 100000, 0},
		{"capped per turn", 50, 1000000, 5, 200000, 0},
		{"capped at max skill", 98, 1000000, 2, 80000, 0},
		{"already maxed", 100, 100000, 0, 0, 0},
		{"negative budget", 50, -1, 0, 0, 1},
		{"budget eats minimum capital", 50, 6000000, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := company(tt.skill)
			gs := newState(c)
			d := &domain.Decision{Decisions: domain.DecisionBag{
				Hiring: &domain.HiringDecision{CFOTrainingBudget: decimal.NewFromInt(tt.budget)},
			}}

			res, err := p.OnDecisionSubmitted(context.Background(), &c, d, gs)
			require.NoError(t, err)
			assert.Len(t, res.Errors, tt.errors)

			v, ok := gs.Get(Name, trainingKey(c.ID))
			if tt.points == 0 {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			training := v.(*Training)
			assert.InDelta(t, tt.points, training.Points, 1e-9)
			assert.InDelta(t, tt.skill+tt.points, training.SkillTo, 1e-9)
			assert.True(t, training.Spent.Equal(decimal.NewFromInt(tt.spent)), "spent %s", training.Spent)
		})
	}
}

func TestCalculateResults_ReportAndTraining(t *testing.T) {
	history := &fakeHistory{snapshots: []domain.InvestmentPortfolio{
		{TurnID: 4, RealizedReturn: 0.004},
		{TurnID: 3, RealizedReturn: 0.002},
		{TurnID: 2, RealizedReturn: 0.000},
	}}
	p, skills := setup(t, history)
	ctx := context.Background()
	c := company(40)
	gs := newState(c)

	perceived := domain.Characteristics{Risk: 50, Duration: 50, Liquidity: 60, CreditQuality: 70, Diversification: 60}
	gs.SetInvestments(&investments.CompanyResult{
		CompanyID: c.ID,
		Portfolio: domain.InvestmentPortfolio{
			CompanyID:      c.ID,
			TurnID:         4,
			TotalValue:     decimal.NewFromInt(8000000),
			Perceived:      perceived,
			Actual:         domain.Characteristics{Risk: 70},
			RealizedReturn: 0.004,
		},
		Liquidation: &domain.LiquidationEvent{DiscountCost: decimal.NewFromInt(1200)},
	})

	d := &domain.Decision{Decisions: domain.DecisionBag{
		Hiring: &domain.HiringDecision{CFOTrainingBudget: decimal.NewFromInt(120000)},
	}}
	_, err := p.OnDecisionSubmitted(ctx, &c, d, gs)
	require.NoError(t, err)

	out, err := p.CalculateResults(ctx, gs.Turn, gs.Companies, gs)
	require.NoError(t, err)
	res := out.(*Results)

	report := res.Reports[c.ID]
	require.NotNil(t, report)
	assert.Equal(t, perceived, report.Perceived)
	assert.InDelta(t, investments.ExpectedReturn(perceived, p.params), report.PerceivedExpectedReturn, 1e-12)
	assert.Equal(t, 3, report.Turns)
	assert.InDelta(t, 0.002, report.MeanReturn, 1e-12)
	assert.InDelta(t, 0.002, report.ReturnStdDev, 1e-12)
	assert.True(t, report.LiquidationCost.Equal(decimal.NewFromInt(1200)))

	var adj plugins.CapitalAdjuster = res
	assert.True(t, adj.CapitalAdjustments()[c.ID].Equal(decimal.NewFromInt(-120000)))

	require.NoError(t, p.OnTurnComplete(ctx, gs.Turn, map[string]any{Name: out}, gs))
	assert.Equal(t, 43.0, skills.updated[c.ID])
}

func TestCalculateResults_CurrentTurnNotYetStored(t *testing.T) {
	p, _ := setup(t, &fakeHistory{})
	c := company(40)
	gs := newState(c)
	gs.SetInvestments(&investments.CompanyResult{
		CompanyID: c.ID,
		Portfolio: domain.InvestmentPortfolio{TurnID: 4, RealizedReturn: 0.003},
	})

	out, err := p.CalculateResults(context.Background(), gs.Turn, gs.Companies, gs)
	require.NoError(t, err)
	report := out.(*Results).Reports[c.ID]
	assert.Equal(t, 1, report.Turns)
	assert.Equal(t, 0.003, report.MeanReturn)
	assert.Zero(t, report.ReturnStdDev)
}

func TestCalculateResults_HistoryError(t *testing.T) {
	p, _ := setup(t, &fakeHistory{err: errors.New("disk gone")})
	c := company(40)
	gs := newState(c)
	gs.SetInvestments(&investments.CompanyResult{CompanyID: c.ID})

	_, err := p.CalculateResults(context.Background(), gs.Turn, gs.Companies, gs)
	assert.ErrorContains(t, err, "disk gone")
}

func TestOnTurnComplete_NoTraining(t *testing.T) {
	p, skills := setup(t, &fakeHistory{})
	gs := newState()
	require.NoError(t, p.OnTurnComplete(context.Background(), gs.Turn, map[string]any{}, gs))
	assert.Empty(t, skills.updated)
}
