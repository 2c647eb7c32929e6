// Package operations turns allocated premium into claims, expenses and an
// underwriting result.
package operations

import (
	"math/rand/v2"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/modules/market"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

// SegmentOperations is one company's book in one segment.
type SegmentOperations struct {
	Segment     domain.Segment     `json:"segment"`
	Tier        domain.ProductTier `json:"tier"`
	Premium     decimal.Decimal    `json:"premium"`
	LossRatio   float64            `json:"loss_ratio"` // applied ratio, after tier, noise and catastrophe
	Claims      decimal.Decimal    `json:"claims"`
	Expenses    decimal.Decimal    `json:"expenses"`
	Catastrophe string             `json:"catastrophe,omitempty"`
}

// CompanyResult aggregates a company's segments for the turn.
type CompanyResult struct {
	CompanyID          int64               `json:"company_id"`
	Segments           []SegmentOperations `json:"segments"`
	PremiumsWritten    decimal.Decimal     `json:"premiums_written"`
	PremiumsEarned     decimal.Decimal     `json:"premiums_earned"`
	Claims             decimal.Decimal     `json:"claims"`
	UnpaidClaims       decimal.Decimal     `json:"unpaid_claims"`
	Expenses           decimal.Decimal     `json:"expenses"`
	UnderwritingResult decimal.Decimal     `json:"underwriting_result"`
	LossRatio          *float64            `json:"loss_ratio,omitempty"`
	ExpenseRatio       *float64            `json:"expense_ratio,omitempty"`
	CombinedRatio      *float64            `json:"combined_ratio,omitempty"`
}

// Shortfall is the cash the company must raise when underwriting lost money.
func (r *CompanyResult) Shortfall() decimal.Decimal {
	if r.UnderwritingResult.IsNegative() {
		return r.UnderwritingResult.Neg()
	}
	return decimal.Zero
}

// Input is everything the operations stage reads.
type Input struct {
	TurnID       int64
	CompanyIDs   []int64
	Market       *market.Outcome
	Catastrophes []domain.Catastrophe
}

// Simulator runs the operations stage.
type Simulator struct {
	cfg config.OperationsConfig
	log zerolog.Logger
}

// NewSimulator creates an operations simulator.
func NewSimulator(cfg config.OperationsConfig, log zerolog.Logger) *Simulator {
	return &Simulator{
		cfg: cfg,
		log: log.With().Str("component", "operations_simulator").Logger(),
	}
}

// Simulate returns one result per listed company. Companies that won no
// premium still get an empty result.
func (s *Simulator) Simulate(in Input) map[int64]*CompanyResult {
	results := make(map[int64]*CompanyResult, len(in.CompanyIDs))
	for _, id := range in.CompanyIDs {
		results[id] = &CompanyResult{CompanyID: id}
	}
	if in.Market == nil {
		for _, r := range results {
			s.finalize(r)
		}
		return results
	}

	for _, id := range in.CompanyIDs {
		noise := distuv.Uniform{
			Min: s.cfg.NoiseMin,
			Max: s.cfg.NoiseMax,
			Src: rand.NewPCG(uint64(in.TurnID), uint64(id)),
		}
		r := results[id]
		for _, alloc := range in.Market.AllocationsFor(id) {
			r.Segments = append(r.Segments, s.segment(alloc, noise.Rand(), in.Catastrophes))
		}
		s.finalize(r)
	}

	s.log.Debug().Int64("turn_id", in.TurnID).Int("companies", len(results)).Msg("Operations simulated")
	return results
}

func (s *Simulator) segment(alloc market.Allocation, noise float64, cats []domain.Catastrophe) SegmentOperations {
	lossRatio := s.cfg.BaseLossRatio[string(alloc.Segment.Line)] * alloc.Tier.LossMultiplier() * noise

	var hit string
	for _, c := range cats {
		if c.Affects(alloc.Segment) {
			lossRatio *= c.ClaimsMultiplier()
			hit = c.Name
		}
	}

	premium := alloc.Premium
	return SegmentOperations{
		Segment:     alloc.Segment,
		Tier:        alloc.Tier,
		Premium:     premium,
		LossRatio:   lossRatio,
		Claims:      premium.Mul(decimal.NewFromFloat(lossRatio)).Round(2),
		Expenses:    premium.Mul(decimal.NewFromFloat(s.cfg.ExpenseRatio)).Round(2),
		Catastrophe: hit,
	}
}

func (s *Simulator) finalize(r *CompanyResult) {
	r.PremiumsWritten = decimal.Zero
	r.Claims = decimal.Zero
	r.Expenses = decimal.Zero
	for _, seg := range r.Segments {
		r.PremiumsWritten = r.PremiumsWritten.Add(seg.Premium)
		r.Claims = r.Claims.Add(seg.Claims)
		r.Expenses = r.Expenses.Add(seg.Expenses)
	}
	// Weekly policies earn in full within the turn.
	r.PremiumsEarned = r.PremiumsWritten
	r.UnpaidClaims = r.Claims.Mul(decimal.NewFromFloat(s.cfg.UnpaidClaimsRatio)).Round(2)
	r.UnderwritingResult = r.PremiumsWritten.Sub(r.Claims).Sub(r.Expenses)

	r.LossRatio = domain.Ratio(r.Claims, r.PremiumsWritten)
	r.ExpenseRatio = domain.Ratio(r.Expenses, r.PremiumsWritten)
	if r.LossRatio != nil && r.ExpenseRatio != nil {
		combined := *r.LossRatio + *r.ExpenseRatio
		r.CombinedRatio = &combined
	}
}
