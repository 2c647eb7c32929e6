package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Characteristics describes a portfolio on five 0-100 scales.
type Characteristics struct {
	Risk            float64 `json:"risk" yaml:"risk"`
	Duration        float64 `json:"duration" yaml:"duration"`
	Liquidity       float64 `json:"liquidity" yaml:"liquidity"`
	CreditQuality   float64 `json:"credit_quality" yaml:"credit_quality"`
	Diversification float64 `json:"diversification" yaml:"diversification"`
}

// Values returns the characteristics in declaration order.
func (c Characteristics) Values() [5]float64 {
	return [5]float64{c.Risk, c.Duration, c.Liquidity, c.CreditQuality, c.Diversification}
}

// CharacteristicsFrom builds characteristics from Values order.
func CharacteristicsFrom(v [5]float64) Characteristics {
	return Characteristics{
		Risk:            v[0],
		Duration:        v[1],
		Liquidity:       v[2],
		CreditQuality:   v[3],
		Diversification: v[4],
	}
}

// Clamp bounds every characteristic to [0, 100].
func (c Characteristics) Clamp() Characteristics {
	v := c.Values()
	for i := range v {
		v[i] = math.Max(0, math.Min(100, v[i]))
	}
	return CharacteristicsFrom(v)
}

// AbsDistance is the sum of absolute differences between two vectors.
func (c Characteristics) AbsDistance(other Characteristics) float64 {
	a, b := c.Values(), other.Values()
	total := 0.0
	for i := range a {
		total += math.Abs(a[i] - b[i])
	}
	return total
}

// Holding is one asset bucket of a portfolio.
type Holding struct {
	AssetClass string          `json:"asset_class"`
	Value      decimal.Decimal `json:"value"`
	Liquidity  float64         `json:"liquidity"` // 0-100
}

// InvestmentPortfolio is the per (company, turn) portfolio snapshot.
// Perceived is always derived from Actual, never the reverse.
type InvestmentPortfolio struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	TurnID         int64           `json:"turn_id"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Actual         Characteristics `json:"actual"`
	Perceived      Characteristics `json:"perceived"`
	Holdings       []Holding       `json:"holdings,omitempty"`
	RealizedReturn float64         `json:"realized_return"`
	CFOSkill       float64         `json:"cfo_skill"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LiquidationTrigger says why assets were sold.
type LiquidationTrigger string

const (
	TriggerCashShortfall LiquidationTrigger = "cash_shortfall"
	TriggerCatastrophe   LiquidationTrigger = "catastrophe"
)

// AssetSale is one asset sold during a liquidation.
type AssetSale struct {
	AssetClass   string          `json:"asset_class"`
	GrossAmount  decimal.Decimal `json:"gross_amount"`
	DiscountRate float64         `json:"discount_rate"`
	Proceeds     decimal.Decimal `json:"proceeds"`
}

// LiquidationEvent records a forced asset sale. Immutable once created.
type LiquidationEvent struct {
	ID             string             `json:"id"`
	CompanyID      int64              `json:"company_id"`
	TurnID         int64              `json:"turn_id"`
	Trigger        LiquidationTrigger `json:"trigger"`
	RequiredAmount decimal.Decimal    `json:"required_amount"`
	AmountRaised   decimal.Decimal    `json:"amount_raised"`
	DiscountCost   decimal.Decimal    `json:"discount_cost"`
	TotalCost      decimal.Decimal    `json:"total_cost"`
	AssetsSold     []AssetSale        `json:"assets_sold"`
	CFOSkill       float64            `json:"cfo_skill"`
	Urgency        float64            `json:"urgency"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Unmet is the part of the requirement the portfolio could not cover.
func (e *LiquidationEvent) Unmet() decimal.Decimal {
	gap := e.RequiredAmount.Sub(e.AmountRaised)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}
