package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(database.Schema())
	require.NoError(t, err)

	return NewStore(db, zerolog.New(nil).Level(zerolog.Disabled))
}

type fixture struct {
	semester *domain.Semester
	turn     *domain.Turn
	company  *domain.Company
}

func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	sem := &domain.Semester{Name: "Spring", StartsAt: start, EndsAt: start.AddDate(0, 4, 0), IsActive: true}
	require.NoError(t, s.Semesters.Create(ctx, sem))

	turn := &domain.Turn{SemesterID: sem.ID, Number: 1, StartsAt: start, EndsAt: start.AddDate(0, 0, 7)}
	require.NoError(t, s.Turns.Create(ctx, turn))

	company := &domain.Company{
		SemesterID:     sem.ID,
		Name:           "Acme Mutual",
		HomeState:      "CA",
		CurrentCapital: decimal.NewFromInt(10000000),
		CFOSkill:       60,
	}
	require.NoError(t, s.Companies.Create(ctx, company))

	return fixture{semester: sem, turn: turn, company: company}
}

func TestSemesterRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	got, err := s.Semesters.GetByID(ctx, f.semester.ID)
	require.NoError(t, err)
	assert.Equal(t, "Spring", got.Name)
	assert.True(t, got.IsActive)
	assert.Equal(t, f.semester.StartsAt, got.StartsAt)

	require.NoError(t, s.Semesters.UpdateOverrides(ctx, f.semester.ID, "market:\n  price_elasticity: 2\n"))
	active, err := s.Semesters.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Contains(t, active[0].ConfigOverrides, "price_elasticity")

	_, err = s.Semesters.GetByID(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTurnRepository_PendingAndTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	pending, err := s.Turns.GetPending(ctx, f.semester.ID)
	require.NoError(t, err)
	assert.Equal(t, f.turn.ID, pending.ID)
	assert.Equal(t, domain.TurnUpcoming, pending.Status)

	now := time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC)
	ok, err := s.Turns.Transition(ctx, f.turn.ID, []domain.TurnStatus{domain.TurnUpcoming, domain.TurnActive}, domain.TurnProcessing, "", now)
	require.NoError(t, err)
	assert.True(t, ok)

	// a second processor loses the race
	ok, err = s.Turns.Transition(ctx, f.turn.ID, []domain.TurnStatus{domain.TurnUpcoming, domain.TurnActive}, domain.TurnProcessing, "", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Turns.Transition(ctx, f.turn.ID, []domain.TurnStatus{domain.TurnProcessing}, domain.TurnFailed, "stage 3: boom", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Turns.GetByID(ctx, f.turn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnFailed, got.Status)
	assert.Equal(t, "stage 3: boom", got.LastError)
	require.NotNil(t, got.ProcessingStartedAt)
	require.NotNil(t, got.ProcessingCompletedAt)

	_, err = s.Turns.GetPending(ctx, f.semester.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	failed, err := s.Turns.ListByStatus(ctx, domain.TurnFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestTurnRepository_SpecialRulesAndCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	rules := domain.SpecialRules{Catastrophes: []domain.Catastrophe{{Name: "Hurricane", State: "FL", Severity: 2.5}}}
	require.NoError(t, s.Turns.UpdateSpecialRules(ctx, f.turn.ID, rules))

	got, err := s.Turns.GetByNumber(ctx, f.semester.ID, 1)
	require.NoError(t, err)
	require.Len(t, got.SpecialRules.Catastrophes, 1)
	assert.Equal(t, 2.5, got.SpecialRules.Catastrophes[0].Severity)

	at := time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC)
	require.NoError(t, s.Turns.SaveCheckpoint(ctx, Checkpoint{TurnID: f.turn.ID, Stage: 3, Name: "market", CompletedAt: at}))
	require.NoError(t, s.Turns.SaveCheckpoint(ctx, Checkpoint{TurnID: f.turn.ID, Stage: 2, Name: "validation", CompletedAt: at}))
	require.NoError(t, s.Turns.SaveCheckpoint(ctx, Checkpoint{TurnID: f.turn.ID, Stage: 2, Name: "validation", CompletedAt: at.Add(time.Hour)}))

	cps, err := s.Turns.Checkpoints(ctx, f.turn.ID)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, 2, cps[0].Stage)
	assert.Equal(t, at.Add(time.Hour), cps[0].CompletedAt)

	require.NoError(t, s.Turns.ClearCheckpoints(ctx, f.turn.ID))
	cps, err = s.Turns.Checkpoints(ctx, f.turn.ID)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestCompanyRepository_MarkBankruptOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.Companies.MarkBankrupt(ctx, f.company.ID, at)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.Companies.MarkBankrupt(ctx, f.company.ID, at.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.False(t, second)

	got, err := s.Companies.GetByID(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CompanyBankrupt, got.Status)
	require.NotNil(t, got.BankruptAt)
	assert.Equal(t, at, *got.BankruptAt)

	operating, err := s.Companies.ListOperating(ctx, f.semester.ID)
	require.NoError(t, err)
	assert.Empty(t, operating)
}

func TestCompanyRepository_UpdateFinancialsKeepsBankruptcy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	ratio := 1.8
	f.company.CurrentCapital = decimal.NewFromInt(12000000)
	f.company.TotalLiabilities = decimal.NewFromInt(3000000)
	f.company.TotalAssets = decimal.NewFromInt(15000000)
	f.company.SolvencyRatio = &ratio
	require.NoError(t, s.Companies.UpdateFinancials(ctx, f.company))

	got, err := s.Companies.GetByID(ctx, f.company.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(12000000).Equal(got.CurrentCapital))
	require.NotNil(t, got.SolvencyRatio)
	assert.Equal(t, 1.8, *got.SolvencyRatio)

	_, err = s.Companies.MarkBankrupt(ctx, f.company.ID, time.Now())
	require.NoError(t, err)
	f.company.Status = domain.CompanyActive
	require.NoError(t, s.Companies.UpdateFinancials(ctx, f.company))

	got, err = s.Companies.GetByID(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CompanyBankrupt, got.Status)
}

func TestCompanyRepository_Segments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	added, err := s.Companies.AddSegment(ctx, domain.CompanySegment{CompanyID: f.company.ID, State: "CA", Line: domain.LinePersonalAuto})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Companies.AddSegment(ctx, domain.CompanySegment{CompanyID: f.company.ID, State: "CA", Line: domain.LinePersonalAuto, Tier: domain.TierPremium})
	require.NoError(t, err)
	assert.False(t, added)

	seg := domain.Segment{State: "CA", Line: domain.LinePersonalAuto}
	require.NoError(t, s.Companies.UpdateSegmentTier(ctx, f.company.ID, seg, domain.TierBasic))
	err = s.Companies.UpdateSegmentTier(ctx, f.company.ID, domain.Segment{State: "NY", Line: domain.LineHomeowners}, domain.TierBasic)
	assert.True(t, errors.Is(err, ErrNotFound))

	segs, err := s.Companies.ListSegmentsBySemester(ctx, f.semester.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, domain.TierBasic, segs[0].Tier)
}

func TestDecisionRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	d := &domain.Decision{
		CompanyID:   f.company.ID,
		TurnID:      f.turn.ID,
		SubmittedAt: f.turn.EndsAt.Add(-time.Hour),
		Valid:       true,
		Decisions: domain.DecisionBag{
			Pricing: []domain.PricingDecision{{Line: domain.LinePersonalAuto, PriceMultiplier: 0.95}},
		},
	}
	require.NoError(t, s.Decisions.Submit(ctx, d))
	assert.NotZero(t, d.ID)

	inserted, err := s.Decisions.InsertIfAbsent(ctx, &domain.Decision{CompanyID: f.company.ID, TurnID: f.turn.ID, IsDefault: true})
	require.NoError(t, err)
	assert.False(t, inserted)

	errs := []domain.ValidationError{{Source: "builtin", Field: "pricing", Message: "too low"}}
	require.NoError(t, s.Decisions.UpdateValidation(ctx, d.ID, false, errs))

	got, err := s.Decisions.Get(ctx, f.company.ID, f.turn.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
	assert.False(t, got.Valid)
	assert.Equal(t, errs, got.ValidationErrors)
	assert.Equal(t, 0.95, got.Decisions.Pricing[0].PriceMultiplier)

	next := &domain.Turn{SemesterID: f.semester.ID, Number: 2, StartsAt: f.turn.EndsAt, EndsAt: f.turn.EndsAt.AddDate(0, 0, 7)}
	require.NoError(t, s.Turns.Create(ctx, next))

	prev, err := s.Decisions.GetPrevious(ctx, f.company.ID, next.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, prev.ID)

	_, err = s.Decisions.GetPrevious(ctx, f.company.ID, f.turn.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	list, err := s.Decisions.ListByTurn(ctx, f.turn.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResultRepository_InsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	lr := 0.7
	res := &domain.TurnResult{
		CompanyID:       f.company.ID,
		TurnID:          f.turn.ID,
		PremiumsWritten: decimal.NewFromInt(425000),
		NetIncome:       decimal.NewFromInt(12000),
		EndingCapital:   decimal.NewFromInt(10012000),
		LossRatio:       &lr,
		MarketShares:    map[string]float64{"CA:personal_auto": 0.425},
	}
	inserted, err := s.Results.Insert(ctx, res)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := *res
	again.NetIncome = decimal.NewFromInt(-1)
	inserted, err = s.Results.Insert(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := s.Results.CountByTurn(ctx, f.turn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Results.Get(ctx, f.company.ID, f.turn.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(12000).Equal(got.NetIncome))
	assert.Nil(t, got.ExpenseRatio)
	require.NotNil(t, got.LossRatio)
	assert.Equal(t, 0.425, got.MarketShares["CA:personal_auto"])
}

func TestMarketRepository_GetOrCreateReusesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	first, err := s.Markets.GetOrCreate(ctx, &domain.MarketCondition{
		TurnID: f.turn.ID, State: "CA", Line: domain.LinePersonalAuto,
		BaseDemand: decimal.NewFromInt(1000000), PriceElasticity: 1.5, CompetitiveIntensity: 0.5,
	})
	require.NoError(t, err)

	second, err := s.Markets.GetOrCreate(ctx, &domain.MarketCondition{
		TurnID: f.turn.ID, State: "CA", Line: domain.LinePersonalAuto,
		BaseDemand: decimal.NewFromInt(5), PriceElasticity: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, decimal.NewFromInt(1000000).Equal(second.BaseDemand))

	all, err := s.Markets.ListByTurn(ctx, f.turn.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPortfolioRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	p := &domain.InvestmentPortfolio{
		CompanyID:  f.company.ID,
		TurnID:     f.turn.ID,
		TotalValue: decimal.NewFromInt(8000000),
		Actual:     domain.Characteristics{Risk: 60, Duration: 40, Liquidity: 20, CreditQuality: 70, Diversification: 50},
		Perceived:  domain.Characteristics{Risk: 55, Duration: 38, Liquidity: 25, CreditQuality: 72, Diversification: 52},
		CFOSkill:   40,
	}
	require.NoError(t, s.Portfolios.Save(ctx, p))
	firstID := p.ID

	p.TotalValue = decimal.NewFromInt(7000000)
	require.NoError(t, s.Portfolios.Save(ctx, p))
	assert.Equal(t, firstID, p.ID)

	next := &domain.Turn{SemesterID: f.semester.ID, Number: 2, StartsAt: f.turn.EndsAt, EndsAt: f.turn.EndsAt.AddDate(0, 0, 7)}
	require.NoError(t, s.Turns.Create(ctx, next))

	latest, err := s.Portfolios.LatestBefore(ctx, f.company.ID, next.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7000000).Equal(latest.TotalValue))
	assert.Equal(t, 20.0, latest.Actual.Liquidity)

	_, err = s.Portfolios.LatestBefore(ctx, f.company.ID, f.turn.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	later := *p
	later.ID = 0
	later.TurnID = next.ID
	later.RealizedReturn = 0.004
	require.NoError(t, s.Portfolios.Save(ctx, &later))

	recent, err := s.Portfolios.Recent(ctx, f.company.ID, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, next.ID, recent[0].TurnID)
	assert.Equal(t, 0.004, recent[0].RealizedReturn)

	recent, err = s.Portfolios.Recent(ctx, f.company.ID, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	ev := &domain.LiquidationEvent{
		ID:             "liq-1",
		CompanyID:      f.company.ID,
		TurnID:         f.turn.ID,
		Trigger:        domain.TriggerCashShortfall,
		RequiredAmount: decimal.NewFromInt(1000000),
		AmountRaised:   decimal.NewFromInt(1000000),
		DiscountCost:   decimal.NewFromInt(86957),
		TotalCost:      decimal.NewFromInt(1086957),
		AssetsSold:     []domain.AssetSale{{AssetClass: "portfolio", GrossAmount: decimal.NewFromInt(1086957), DiscountRate: 0.08}},
	}
	inserted, err := s.Portfolios.InsertLiquidation(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *ev
	dup.ID = "liq-2"
	inserted, err = s.Portfolios.InsertLiquidation(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	events, err := s.Portfolios.ListLiquidationsByTurn(ctx, f.turn.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "liq-1", events[0].ID)
	assert.Len(t, events[0].AssetsSold, 1)
}

func TestGameEventRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	turnID := f.turn.ID
	ev := &domain.GameEvent{SemesterID: f.semester.ID, TurnID: &turnID, EventID: "e-1", EventType: "turn.completed", Source: "orchestrator", Payload: "{}"}
	require.NoError(t, s.InsertGameEvent(ctx, ev))
	require.NoError(t, s.InsertGameEvent(ctx, ev))
	require.NoError(t, s.GameEvents.Insert(ctx, &domain.GameEvent{SemesterID: f.semester.ID, EventID: "e-2", EventType: "company.bankrupt", Source: "orchestrator", Payload: "{}"}))

	all, err := s.GameEvents.ListBySemester(ctx, f.semester.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "e-2", all[0].EventID)
	assert.Nil(t, all[0].TurnID)

	completed, err := s.GameEvents.ListBySemester(ctx, f.semester.ID, "turn.completed", 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].TurnID)
	assert.Equal(t, turnID, *completed[0].TurnID)
}

func TestStore_InTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	err := s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.Results.Insert(ctx, &domain.TurnResult{CompanyID: f.company.ID, TurnID: f.turn.ID}); err != nil {
			return err
		}
		return tx.InTx(ctx, func(inner *Store) error {
			return errors.New("stage failed")
		})
	})
	require.Error(t, err)

	n, err := s.Results.CountByTurn(ctx, f.turn.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
