package market

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNonPositivePrice is returned when a competitor's effective price is not positive.
var ErrNonPositivePrice = errors.New("effective price must be positive")

var one = decimal.NewFromInt(1)

// ShareParams configures the share formula.
type ShareParams struct {
	Elasticity float64
	MinShare   float64
	MaxShare   float64
}

// ComputeShares returns each competitor's market share and the mean price.
//
//	price_ratio  = price / mean
//	price_effect = (1 - price_ratio) * elasticity
//	share        = (1/n) * (1 + price_effect), clamped to [MinShare, MaxShare]
//
// Arithmetic is decimal so premium volumes derived from the shares add up exactly.
func ComputeShares(prices []decimal.Decimal, p ShareParams) ([]decimal.Decimal, decimal.Decimal, error) {
	n := len(prices)
	if n == 0 {
		return nil, decimal.Zero, nil
	}

	total := decimal.Zero
	for _, price := range prices {
		if !price.IsPositive() {
			return nil, decimal.Zero, ErrNonPositivePrice
		}
		total = total.Add(price)
	}
	count := decimal.NewFromInt(int64(n))
	mean := total.Div(count)

	elasticity := decimal.NewFromFloat(p.Elasticity)
	base := one.Div(count)
	lo := decimal.NewFromFloat(p.MinShare)
	hi := decimal.NewFromFloat(p.MaxShare)

	shares := make([]decimal.Decimal, n)
	for i, price := range prices {
		ratio := price.Div(mean)
		effect := one.Sub(ratio).Mul(elasticity)
		share := base.Mul(one.Add(effect))
		shares[i] = clamp(share, lo, hi)
	}
	return shares, mean, nil
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
