package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TurnResult is the computed outcome of one (company, turn) pair (CompanyTurnResult).
// Rows are append-only.
type TurnResult struct {
	ID                 int64              `json:"id"`
	CompanyID          int64              `json:"company_id"`
	TurnID             int64              `json:"turn_id"`
	PremiumsWritten    decimal.Decimal    `json:"premiums_written"`
	PremiumsEarned     decimal.Decimal    `json:"premiums_earned"`
	ClaimsIncurred     decimal.Decimal    `json:"claims_incurred"`
	Expenses           decimal.Decimal    `json:"expenses"`
	UnderwritingResult decimal.Decimal    `json:"underwriting_result"`
	InvestmentIncome   decimal.Decimal    `json:"investment_income"`
	LiquidationCost    decimal.Decimal    `json:"liquidation_cost"`
	OtherAdjustments   decimal.Decimal    `json:"other_adjustments"`
	NetIncome          decimal.Decimal    `json:"net_income"`
	StartingCapital    decimal.Decimal    `json:"starting_capital"`
	EndingCapital      decimal.Decimal    `json:"ending_capital"`
	LossRatio          *float64           `json:"loss_ratio,omitempty"`
	ExpenseRatio       *float64           `json:"expense_ratio,omitempty"`
	CombinedRatio      *float64           `json:"combined_ratio,omitempty"`
	SolvencyRatio      *float64           `json:"solvency_ratio,omitempty"`
	MarketShares       map[string]float64 `json:"market_shares,omitempty"`
	Bankrupt           bool               `json:"bankrupt"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Ratio divides two amounts, returning nil when the denominator is zero.
func Ratio(numerator, denominator decimal.Decimal) *float64 {
	if denominator.IsZero() {
		return nil
	}
	v := numerator.Div(denominator).InexactFloat64()
	return &v
}
