package regulatory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/insuresim/underwriter/internal/plugins"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPlugin(t *testing.T, settings map[string]any) (*Plugin, *AuditRepository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	audits := NewAuditRepository(db, zerolog.Nop())
	p := New(audits, zerolog.Nop())
	p.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, p.Initialize(context.Background(), plugins.PluginConfig{
		Settings: settings,
		Game:     config.DefaultGameConfig(),
	}))
	return p, audits
}

func ratio(v float64) *float64 { return &v }

func newState(companies ...domain.Company) *gamestate.State {
	segments := []domain.CompanySegment{
		{CompanyID: 1, State: "CA", Line: domain.LinePersonalAuto, Tier: domain.TierStandard},
		{CompanyID: 1, State: "TX", Line: domain.LinePersonalAuto, Tier: domain.TierStandard},
		{CompanyID: 2, State: "TX", Line: domain.LineHomeowners, Tier: domain.TierStandard},
	}
	return gamestate.New(&domain.Turn{ID: 9, Number: 4}, &domain.Semester{ID: 1}, config.DefaultGameConfig(), companies, segments)
}

func pricing(state string, line domain.LineOfBusiness, m float64) *domain.Decision {
	return &domain.Decision{Decisions: domain.DecisionBag{
		Pricing: []domain.PricingDecision{{State: state, Line: line, PriceMultiplier: m}},
	}}
}

func TestInitialize_SettingsOverrideDefaults(t *testing.T) {
	p, _ := setupPlugin(t, map[string]any{
		"violation_fine": 75000,
		"state_bands":    map[string]any{"TX": map[string]any{"min": 0.9, "max": 1.1}},
	})
	s := p.Settings()
	assert.Equal(t, 75000.0, s.ViolationFine)
	assert.Equal(t, Band{Min: 0.9, Max: 1.1}, s.BandFor("TX"))
	assert.Equal(t, Band{Min: 0.8, Max: 1.4}, s.BandFor("CA"), "defaults survive a partial override")
	assert.Equal(t, s.DefaultBand, s.BandFor("OH"))
}

func TestInitialize_RejectsInvertedBand(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	p := New(NewAuditRepository(db, zerolog.Nop()), zerolog.Nop())
	err = p.Initialize(context.Background(), plugins.PluginConfig{
		Settings: map[string]any{"default_band": map[string]any{"min": 1.5, "max": 1.0}},
	})
	assert.Error(t, err)
}

func TestOnDecisionSubmitted_RateBands(t *testing.T) {
	p, _ := setupPlugin(t, nil)
	company := &domain.Company{ID: 1, CurrentCapital: decimal.NewFromInt(10000000)}

	tests := []struct {
		name     string
		decision *domain.Decision
		errors   int
	}{
		{"inside CA band", pricing("CA", domain.LinePersonalAuto, 1.3), 0},
		{"above CA band", pricing("CA", domain.LinePersonalAuto, 1.5), 1},
		{"inside default band", pricing("TX", domain.LinePersonalAuto, 1.5), 0},
		{"below default band", pricing("TX", domain.LinePersonalAuto, 0.6), 1},
		{"stateless entry checks every written state", pricing("", domain.LinePersonalAuto, 1.5), 1},
		{"stateless entry out of every band", pricing("", domain.LinePersonalAuto, 1.9), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gs := newState(*company)
			res, err := p.OnDecisionSubmitted(context.Background(), company, tt.decision, gs)
			require.NoError(t, err)
			assert.Len(t, res.Errors, tt.errors)
			for _, e := range res.Errors {
				assert.Equal(t, Name, e.Source)
			}
		})
	}
}

func TestOnDecisionSubmitted_MinimumCapital(t *testing.T) {
	p, _ := setupPlugin(t, nil)
	company := &domain.Company{ID: 2, CurrentCapital: decimal.NewFromInt(1000000)}

	res, err := p.OnDecisionSubmitted(context.Background(), company, &domain.Decision{}, newState(*company))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "capital", res.Errors[0].Field)
}

func TestCalculateResults_FinesViolationsAndWatchlist(t *testing.T) {
	p, _ := setupPlugin(t, nil)
	ctx := context.Background()
	healthy := domain.Company{ID: 1, CurrentCapital: decimal.NewFromInt(10000000), SolvencyRatio: ratio(2.0)}
	weak := domain.Company{ID: 2, CurrentCapital: decimal.NewFromInt(6000000), SolvencyRatio: ratio(1.1)}
	gs := newState(healthy, weak)

	require.NoError(t, p.OnTurnStart(ctx, gs.Turn, gs))
	watch, ok := gs.Get(Name, WatchlistKey)
	require.True(t, ok)
	assert.Equal(t, []int64{2}, watch)

	_, err := p.OnDecisionSubmitted(ctx, &healthy, pricing("CA", domain.LinePersonalAuto, 1.6), gs)
	require.NoError(t, err)
	_, err = p.OnDecisionSubmitted(ctx, &weak, pricing("TX", domain.LineHomeowners, 1.0), gs)
	require.NoError(t, err)

	out, err := p.CalculateResults(ctx, gs.Turn, gs.Companies, gs)
	require.NoError(t, err)
	res := out.(*Results)

	require.Len(t, res.Findings, 2)
	assert.Equal(t, KindRateBand, res.Findings[0].Kind)
	assert.Equal(t, KindCapitalWatch, res.Findings[1].Kind)
	assert.Equal(t, []int64{2}, res.Watchlist)

	assert.True(t, res.Fines[1].Equal(decimal.NewFromInt(50000)))
	assert.True(t, res.Fines[2].Equal(decimal.NewFromInt(30000)))

	var adj plugins.CapitalAdjuster = res
	assert.True(t, adj.CapitalAdjustments()[1].Equal(decimal.NewFromInt(-50000)))
}

func TestOnTurnComplete_RecordsAuditOnce(t *testing.T) {
	p, audits := setupPlugin(t, nil)
	ctx := context.Background()
	company := domain.Company{ID: 1, CurrentCapital: decimal.NewFromInt(10000000)}
	gs := newState(company)

	_, err := p.OnDecisionSubmitted(ctx, &company, pricing("CA", domain.LinePersonalAuto, 0.5), gs)
	require.NoError(t, err)
	out, err := p.CalculateResults(ctx, gs.Turn, gs.Companies, gs)
	require.NoError(t, err)
	results := map[string]any{Name: out}

	require.NoError(t, p.OnTurnComplete(ctx, gs.Turn, results, gs))
	require.NoError(t, p.OnTurnComplete(ctx, gs.Turn, results, gs))

	records, err := audits.ListByCompany(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(9), records[0].TurnID)
	assert.Equal(t, KindRateBand, records[0].Kind)
	assert.True(t, records[0].Fine.Equal(decimal.NewFromInt(50000)))
}

func TestOnTurnComplete_WithoutResults(t *testing.T) {
	p, audits := setupPlugin(t, nil)
	ctx := context.Background()
	gs := newState()

	require.NoError(t, p.OnTurnComplete(ctx, gs.Turn, map[string]any{}, gs))
	records, err := audits.ListByCompany(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}
