package turns

import (
	"sort"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/modules/investments"
	"github.com/insuresim/underwriter/internal/modules/operations"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/shopspring/decimal"
)

// Aggregator turns the stage outputs into per-company results and the
// updated company balance sheet.
type Aggregator struct {
	solvency   config.SolvencyConfig
	operations config.OperationsConfig
}

// NewAggregator creates an aggregator for one game config.
func NewAggregator(cfg *config.GameConfig) *Aggregator {
	return &Aggregator{solvency: cfg.Solvency, operations: cfg.Operations}
}

// CompanyOutcome is the post-processing output of one company.
type CompanyOutcome struct {
	Result  domain.TurnResult
	Company domain.Company // updated financials
}

// Compute derives a company's turn result. Either stage output may be nil,
// for a company that wrote no business or holds no portfolio.
func (a *Aggregator) Compute(company domain.Company, turnID int64, ops *operations.CompanyResult, inv *investments.CompanyResult, shares map[string]float64, adjustment decimal.Decimal) CompanyOutcome {
	res := domain.TurnResult{
		CompanyID:          company.ID,
		TurnID:             turnID,
		PremiumsWritten:    decimal.Zero,
		PremiumsEarned:     decimal.Zero,
		ClaimsIncurred:     decimal.Zero,
		Expenses:           decimal.Zero,
		UnderwritingResult: decimal.Zero,
		InvestmentIncome:   decimal.Zero,
		LiquidationCost:    decimal.Zero,
		OtherAdjustments:   adjustment,
		StartingCapital:    company.CurrentCapital,
		MarketShares:       shares,
	}
	unpaid := decimal.Zero
	if ops != nil {
		res.PremiumsWritten = ops.PremiumsWritten
		res.PremiumsEarned = ops.PremiumsEarned
		res.ClaimsIncurred = ops.Claims
		res.Expenses = ops.Expenses
		res.UnderwritingResult = ops.UnderwritingResult
		res.LossRatio = ops.LossRatio
		res.ExpenseRatio = ops.ExpenseRatio
		res.CombinedRatio = ops.CombinedRatio
		unpaid = ops.UnpaidClaims
	}
	if inv != nil {
		res.InvestmentIncome = inv.Income
		res.LiquidationCost = inv.LiquidationCost()
	}

	res.NetIncome = res.UnderwritingResult.Add(res.InvestmentIncome).Sub(res.LiquidationCost).Add(res.OtherAdjustments)
	res.EndingCapital = res.StartingCapital.Add(res.NetIncome)
	res.SolvencyRatio = domain.Ratio(res.EndingCapital, a.RequiredCapital(res.PremiumsWritten))
	res.Bankrupt = IsInsolvent(res.EndingCapital, res.SolvencyRatio)

	updated := company
	updated.CurrentCapital = res.EndingCapital
	updated.SolvencyRatio = res.SolvencyRatio
	runoff := decimal.NewFromFloat(1 - a.operations.ReserveRunoffRate)
	updated.TotalLiabilities = company.TotalLiabilities.Mul(runoff).Add(unpaid).Round(2)
	updated.TotalAssets = updated.CurrentCapital.Add(updated.TotalLiabilities)
	if res.Bankrupt {
		updated.Status = domain.CompanyBankrupt
	} else if res.LiquidationCost.IsPositive() {
		updated.Status = domain.CompanyLiquidating
	} else {
		updated.Status = domain.CompanyActive
	}
	return CompanyOutcome{Result: res, Company: updated}
}

// RequiredCapital is the capital a company must hold for the premium it wrote.
func (a *Aggregator) RequiredCapital(premium decimal.Decimal) decimal.Decimal {
	minimum := decimal.NewFromFloat(a.solvency.MinimumCapital)
	byPremium := premium.Mul(decimal.NewFromFloat(a.solvency.PremiumCapitalFactor))
	return decimal.Max(minimum, byPremium)
}

// IsInsolvent reports whether a company must be declared bankrupt.
func IsInsolvent(capital decimal.Decimal, solvencyRatio *float64) bool {
	if !capital.IsPositive() {
		return true
	}
	return solvencyRatio != nil && *solvencyRatio < 1.0
}

// CapitalAdjustments sums the adjustments of every plugin result that
// implements plugins.CapitalAdjuster.
func CapitalAdjustments(results map[string]any) map[int64]decimal.Decimal {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[int64]decimal.Decimal)
	for _, name := range names {
		adj, ok := results[name].(plugins.CapitalAdjuster)
		if !ok {
			continue
		}
		for companyID, amount := range adj.CapitalAdjustments() {
			out[companyID] = out[companyID].Add(amount)
		}
	}
	return out
}
