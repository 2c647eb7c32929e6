package investments

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNothingToSell is returned when a liquidation is requested against an
// empty portfolio.
var ErrNothingToSell = errors.New("portfolio has no value to liquidate")

// BlendedAssetClass names the single holding used for portfolios without a
// holdings breakdown.
const BlendedAssetClass = "blended"

const maxDiscount = 0.5

// LiquidationParams configures the discount model.
type LiquidationParams struct {
	MaxSizePenalty      float64 // cap of the size penalty
	SizePenaltyFloor    float64 // share of the portfolio that can be sold without a size penalty
	MaxExecutionPenalty float64 // extra discount at CFO skill 0
}

// LiquidationRequest asks for Amount of cash to be raised from a portfolio.
type LiquidationRequest struct {
	CompanyID int64
	TurnID    int64
	Trigger   domain.LiquidationTrigger
	Amount    decimal.Decimal
	Portfolio domain.InvestmentPortfolio
	CFOSkill  float64
	Urgency   float64 // 1 for ordinary sales, higher under catastrophes
}

// LiquidityHaircut is the base discount of an asset with the given liquidity
// score: 0% for fully liquid up to 10% for illiquid.
func LiquidityHaircut(liquidity float64) float64 {
	l := math.Max(0, math.Min(100, liquidity))
	return (100 - l) / 1000
}

// SizePenalty is the extra discount for selling a large share of the
// portfolio at once.
func SizePenalty(amount, total decimal.Decimal, p LiquidationParams) float64 {
	if !total.IsPositive() {
		return p.MaxSizePenalty
	}
	ratio := amount.Div(total).InexactFloat64()
	if p.SizePenaltyFloor >= 1 {
		return 0
	}
	excess := (ratio - p.SizePenaltyFloor) / (1 - p.SizePenaltyFloor)
	return p.MaxSizePenalty * math.Max(0, math.Min(1, excess))
}

// ExecutionPenalty is the extra discount a less skilled CFO pays.
func ExecutionPenalty(skill float64, p LiquidationParams) float64 {
	s := math.Max(0, math.Min(100, skill))
	return (1 - s/100) * p.MaxExecutionPenalty
}

// Liquidate sells holdings until the requested amount of cash is raised or
// the portfolio is exhausted. Skilled CFOs sell the most liquid holdings
// first, unskilled ones the least liquid. The returned portfolio has the
// sold value removed.
func Liquidate(req LiquidationRequest, p LiquidationParams, now time.Time) (*domain.LiquidationEvent, domain.InvestmentPortfolio, error) {
	portfolio := req.Portfolio
	if !portfolio.TotalValue.IsPositive() {
		return nil, portfolio, ErrNothingToSell
	}

	holdings := holdingsOf(portfolio)
	order := sellOrder(holdings, req.CFOSkill)

	urgency := req.Urgency
	if urgency < 1 {
		urgency = 1
	}
	common := SizePenalty(req.Amount, portfolio.TotalValue, p) + ExecutionPenalty(req.CFOSkill, p)

	event := &domain.LiquidationEvent{
		ID:             uuid.New().String(),
		CompanyID:      req.CompanyID,
		TurnID:         req.TurnID,
		Trigger:        req.Trigger,
		RequiredAmount: req.Amount,
		AmountRaised:   decimal.Zero,
		DiscountCost:   decimal.Zero,
		TotalCost:      decimal.Zero,
		CFOSkill:       req.CFOSkill,
		Urgency:        urgency,
		CreatedAt:      now,
	}

	remaining := req.Amount
	for _, i := range order {
		if !remaining.IsPositive() {
			break
		}
		h := &holdings[i]
		if !h.Value.IsPositive() {
			continue
		}

		discount := math.Min(maxDiscount, (LiquidityHaircut(h.Liquidity)+common)*urgency)
		keep := decimal.NewFromFloat(1 - discount)

		gross := remaining.Div(keep).RoundCeil(2)
		proceeds := remaining
		if gross.GreaterThanOrEqual(h.Value) {
			gross = h.Value
			proceeds = gross.Mul(keep).Round(2)
		}

		h.Value = h.Value.Sub(gross)
		remaining = remaining.Sub(proceeds)
		event.AssetsSold = append(event.AssetsSold, domain.AssetSale{
			AssetClass:   h.AssetClass,
			GrossAmount:  gross,
			DiscountRate: discount,
			Proceeds:     proceeds,
		})
		event.AmountRaised = event.AmountRaised.Add(proceeds)
		event.TotalCost = event.TotalCost.Add(gross)
	}
	event.DiscountCost = event.TotalCost.Sub(event.AmountRaised)

	portfolio.TotalValue = portfolio.TotalValue.Sub(event.TotalCost)
	if len(portfolio.Holdings) > 0 {
		portfolio.Holdings = holdings
		portfolio.Actual.Liquidity = weightedLiquidity(holdings, portfolio.Actual.Liquidity)
	}
	return event, portfolio, nil
}

// holdingsOf copies the holdings, treating a portfolio without a breakdown as
// one blended holding.
func holdingsOf(portfolio domain.InvestmentPortfolio) []domain.Holding {
	if len(portfolio.Holdings) == 0 {
		return []domain.Holding{{
			AssetClass: BlendedAssetClass,
			Value:      portfolio.TotalValue,
			Liquidity:  portfolio.Actual.Liquidity,
		}}
	}
	out := make([]domain.Holding, len(portfolio.Holdings))
	copy(out, portfolio.Holdings)
	return out
}

// sellOrder ranks holdings by liquidity*(2w-1) with w = skill/100: above
// skill 50 the most liquid go first, below it the least liquid.
func sellOrder(holdings []domain.Holding, skill float64) []int {
	w := math.Max(0, math.Min(100, skill)) / 100
	order := make([]int, len(holdings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return holdings[order[a]].Liquidity*(2*w-1) > holdings[order[b]].Liquidity*(2*w-1)
	})
	return order
}

func weightedLiquidity(holdings []domain.Holding, fallback float64) float64 {
	total, weighted := 0.0, 0.0
	for _, h := range holdings {
		v := h.Value.InexactFloat64()
		total += v
		weighted += v * h.Liquidity
	}
	if total <= 0 {
		return fallback
	}
	return weighted / total
}
