package expansion

import (
	"context"
	"testing"
	"time"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/plugins"
	testingpkg "github.com/insuresim/underwriter/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *repositories.Store
	plugin   *Plugin
	semester *domain.Semester
	company  *domain.Company
}

func setup(t *testing.T, settings map[string]any) *fixture {
	t.Helper()
	store, _ := testingpkg.NewTestStore(t)
	sem := testingpkg.SeedSemester(t, store, "")
	company := testingpkg.SeedCompany(t, store, sem.ID, testingpkg.CompanySpec{
		Name:    "Pacific Mutual",
		Capital: 10000000,
		Segments: []domain.CompanySegment{
			testingpkg.Segment("CA", domain.LinePersonalAuto),
			testingpkg.Segment("CA", domain.LineHomeowners),
		},
	})

	factory := NewFactory(store, zerolog.Nop())
	built, err := factory()
	require.NoError(t, err)
	p := built.(*Plugin)
	p.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, p.Initialize(context.Background(), plugins.PluginConfig{
		Settings: settings,
		Game:     config.DefaultGameConfig(),
	}))
	return &fixture{store: store, plugin: p, semester: sem, company: company}
}

func (f *fixture) state(t *testing.T, turn *domain.Turn) *gamestate.State {
	t.Helper()
	ctx := context.Background()
	companies, err := f.store.Companies.ListOperating(ctx, f.semester.ID)
	require.NoError(t, err)
	segments, err := f.store.Companies.ListSegmentsBySemester(ctx, f.semester.ID)
	require.NoError(t, err)
	return gamestate.New(turn, f.semester, config.DefaultGameConfig(), companies, segments)
}

func expansion(state string, lines ...domain.LineOfBusiness) *domain.Decision {
	return &domain.Decision{Decisions: domain.DecisionBag{
		Expansion: []domain.ExpansionRequest{{State: state, Lines: lines}},
	}}
}

func TestNewFactory_RequiresStore(t *testing.T) {
	_, err := NewFactory(nil, zerolog.Nop())()
	assert.Error(t, err)
}

func TestInitialize_Settings(t *testing.T) {
	f := setup(t, map[string]any{
		"authorization_cost": 100000,
		"tier_change_cost":   map[string]any{"premium": 90000},
	})
	s := f.plugin.Settings()
	assert.Equal(t, 100000.0, s.AuthorizationCost)
	assert.Equal(t, 90000.0, s.TierChangeCost[domain.TierPremium])
	assert.Equal(t, 25000.0, s.TierChangeCost[domain.TierStandard])
	assert.Equal(t, 2, s.ApprovalDelayTurns)

	err := f.plugin.Initialize(context.Background(), plugins.PluginConfig{
		Settings: map[string]any{"max_requests_per_turn": 0},
	})
	assert.Error(t, err)
}

func TestPlugin_DependsOnCompliance(t *testing.T) {
	f := setup(t, nil)
	assert.Equal(t, []string{"RegulatoryCompliance"}, f.plugin.Dependencies())
}

func TestOnDecisionSubmitted_Validation(t *testing.T) {
	tests := []struct {
		name     string
		decision *domain.Decision
		errors   int
		segments int
	}{
		{"accepted", expansion("TX", domain.LinePersonalAuto, domain.LineHomeowners), 0, 2},
		{"lowercase state", expansion("tx", domain.LinePersonalAuto), 1, 0},
		{"no lines", expansion("TX"), 1, 0},
		{"unknown line", expansion("TX", "boats", domain.LineHomeowners), 1, 1},
		{"already authorized", expansion("CA", domain.LinePersonalAuto, domain.LineWorkersComp), 1, 1},
		{"duplicate line counted once", expansion("TX", domain.LineHomeowners, domain.LineHomeowners), 0, 1},
		{"too many", expansion("NY", domain.LinePersonalAuto, domain.LineHomeowners,
			domain.LineGeneralLiability, domain.LineWorkersComp), 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, nil)
			gs := f.state(t, &domain.Turn{ID: 1, Number: 1})

			res, err := f.plugin.OnDecisionSubmitted(context.Background(), f.company, tt.decision, gs)
			require.NoError(t, err)
			assert.Len(t, res.Errors, tt.errors)

			plan, ok := planFor(gs, f.company.ID)
			if tt.segments == 0 {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Len(t, plan.Segments, tt.segments)
			assert.True(t, plan.Cost.Equal(decimal.NewFromInt(int64(250000*tt.segments))))
		})
	}
}

func TestOnDecisionSubmitted_WatchlistBlocksExpansion(t *testing.T) {
	f := setup(t, nil)
	gs := f.state(t, &domain.Turn{ID: 1, Number: 1})
	gs.Put("RegulatoryCompliance", "watchlist", []int64{f.company.ID})

	d := expansion("TX", domain.LinePersonalAuto)
	d.Decisions.Products = []domain.ProductChange{{State: "CA", Line: domain.LineHomeowners, Tier: domain.TierBasic}}

	res, err := f.plugin.OnDecisionSubmitted(context.Background(), f.company, d, gs)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "expansion", res.Errors[0].Field)

	plan, ok := planFor(gs, f.company.ID)
	require.True(t, ok, "tier changes still go through")
	assert.Empty(t, plan.Segments)
	assert.Len(t, plan.TierChanges, 1)
}

func TestOnDecisionSubmitted_CapitalMustCoverCosts(t *testing.T) {
	f := setup(t, nil)
	gs := f.state(t, &domain.Turn{ID: 1, Number: 1})
	poor := *f.company
	poor.CurrentCapital = decimal.NewFromInt(5200000)

	res, err := f.plugin.OnDecisionSubmitted(context.Background(), &poor, expansion("TX", domain.LinePersonalAuto), gs)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "capital", res.Errors[0].Field)
	_, ok := planFor(gs, f.company.ID)
	assert.False(t, ok)
}

func TestOnDecisionSubmitted_TierChanges(t *testing.T) {
	f := setup(t, nil)
	gs := f.state(t, &domain.Turn{ID: 1, Number: 1})
	d := &domain.Decision{Decisions: domain.DecisionBag{Products: []domain.ProductChange{
		{State: "CA", Line: domain.LinePersonalAuto, Tier: domain.TierPremium},
		{State: "CA", Line: domain.LineHomeowners, Tier: domain.TierStandard},
		{State: "TX", Line: domain.LineHomeowners, Tier: domain.TierBasic},
		{State: "CA", Line: domain.LineHomeowners, Tier: "gold"},
	}}}

	res, err := f.plugin.OnDecisionSubmitted(context.Background(), f.company, d, gs)
	require.NoError(t, err)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, "products[1]", res.Errors[0].Field)
	assert.Equal(t, "products[2]", res.Errors[1].Field)
	assert.Equal(t, "products[3]", res.Errors[2].Field)

	plan, ok := planFor(gs, f.company.ID)
	require.True(t, ok)
	require.Len(t, plan.TierChanges, 1)
	assert.True(t, plan.Cost.Equal(decimal.NewFromInt(75000)))
}

func TestTurnFlow_RequestChargedThenApprovedAfterDelay(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	turn1 := testingpkg.SeedTurn(t, f.store, f.semester.ID, 1)
	turn3 := testingpkg.SeedTurn(t, f.store, f.semester.ID, 3)

	gs := f.state(t, turn1)
	d := expansion("TX", domain.LinePersonalAuto, domain.LineHomeowners)
	d.Decisions.Products = []domain.ProductChange{{State: "CA", Line: domain.LinePersonalAuto, Tier: domain.TierPremium}}
	res, err := f.plugin.OnDecisionSubmitted(ctx, f.company, d, gs)
	require.NoError(t, err)
	require.True(t, res.Valid())

	out, err := f.plugin.CalculateResults(ctx, turn1, gs.Companies, gs)
	require.NoError(t, err)
	results := out.(*Results)
	assert.True(t, results.Charges[f.company.ID].Equal(decimal.NewFromInt(575000)))

	var adj plugins.CapitalAdjuster = results
	assert.True(t, adj.CapitalAdjustments()[f.company.ID].Equal(decimal.NewFromInt(-575000)))

	merged := map[string]any{Name: out}
	require.NoError(t, f.plugin.OnTurnComplete(ctx, turn1, merged, gs))
	require.NoError(t, f.plugin.OnTurnComplete(ctx, turn1, merged, gs), "rerun is a no-op")

	requests, err := f.plugin.Requests(ctx, f.company.ID)
	require.NoError(t, err)
	require.Len(t, requests, 2)
	for _, r := range requests {
		assert.Equal(t, StatusPending, r.Status)
		assert.Equal(t, 3, r.ApproveAtTurn)
		assert.True(t, r.Cost.Equal(decimal.NewFromInt(250000)))
	}

	segments, err := f.store.Companies.ListSegments(ctx, f.company.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2, "not authorized before the delay")
	assert.Equal(t, domain.TierPremium, segments[1].Tier, "tier changes apply at once")

	gs = f.state(t, turn3)
	again, err := f.plugin.OnDecisionSubmitted(ctx, f.company, expansion("TX", domain.LinePersonalAuto), gs)
	require.NoError(t, err)
	require.Len(t, again.Errors, 1, "pending requests cannot be filed twice")

	require.NoError(t, f.plugin.OnTurnComplete(ctx, turn3, map[string]any{}, gs))

	segments, err = f.store.Companies.ListSegments(ctx, f.company.ID)
	require.NoError(t, err)
	require.Len(t, segments, 4)
	var tx []domain.CompanySegment
	for _, s := range segments {
		if s.State == "TX" {
			tx = append(tx, s)
		}
	}
	require.Len(t, tx, 2)
	for _, s := range tx {
		assert.Equal(t, turn3.ID, s.AuthorizedTurnID)
		assert.Equal(t, domain.TierStandard, s.Tier)
	}

	requests, err = f.plugin.Requests(ctx, f.company.ID)
	require.NoError(t, err)
	for _, r := range requests {
		assert.Equal(t, StatusApproved, r.Status)
		require.NotNil(t, r.ResolvedAt)
	}
}

func TestTurnFlow_NoDelayApprovesSameTurn(t *testing.T) {
	f := setup(t, map[string]any{"approval_delay_turns": 0})
	ctx := context.Background()
	turn := testingpkg.SeedTurn(t, f.store, f.semester.ID, 1)
	gs := f.state(t, turn)

	_, err := f.plugin.OnDecisionSubmitted(ctx, f.company, expansion("NV", domain.LineWorkersComp), gs)
	require.NoError(t, err)
	out, err := f.plugin.CalculateResults(ctx, turn, gs.Companies, gs)
	require.NoError(t, err)
	require.NoError(t, f.plugin.OnTurnComplete(ctx, turn, map[string]any{Name: out}, gs))

	segments, err := f.store.Companies.ListSegments(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Len(t, segments, 3)
}
