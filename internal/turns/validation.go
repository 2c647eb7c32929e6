package turns

import (
	"fmt"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
)

const builtinSource = "builtin"

// ValidateDecision runs the built-in checks: capital sufficiency and pricing
// bounds. Plugins add their own checks on top.
func ValidateDecision(company *domain.Company, d *domain.Decision, cfg *config.GameConfig) []domain.ValidationError {
	var errs []domain.ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, domain.ValidationError{Source: builtinSource, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !company.CurrentCapital.IsPositive() {
		add("capital", "company has no capital to underwrite with")
	}
	if len(d.Decisions.Expansion) > 0 && company.CurrentCapital.InexactFloat64() < cfg.Solvency.MinimumCapital {
		add("expansion", "capital %s is below the %.0f minimum required to expand", company.CurrentCapital.StringFixed(0), cfg.Solvency.MinimumCapital)
	}

	for i, p := range d.Decisions.Pricing {
		field := fmt.Sprintf("pricing[%d]", i)
		if !p.Line.IsValid() {
			add(field, "unknown line of business %q", p.Line)
			continue
		}
		if !pricingInBounds(p, cfg) {
			add(field, "price multiplier %.2f outside [%.2f, %.2f]", p.PriceMultiplier, cfg.Turn.MinPriceMultiplier, cfg.Turn.MaxPriceMultiplier)
		}
		if p.ExpectedLossRatio < 0 || p.ExpectedLossRatio > 2 {
			add(field, "expected loss ratio %.2f outside [0, 2]", p.ExpectedLossRatio)
		}
	}

	for i, pc := range d.Decisions.Products {
		if !pc.Tier.IsValid() {
			add(fmt.Sprintf("products[%d]", i), "unknown product tier %q", pc.Tier)
		}
	}
	return errs
}

// Sanitize drops the pricing entries the built-in checks reject, so the
// market falls back to baseline pricing for those segments.
func Sanitize(d *domain.Decision, cfg *config.GameConfig) *domain.Decision {
	out := *d
	out.Decisions.Pricing = nil
	for _, p := range d.Decisions.Pricing {
		if p.Line.IsValid() && pricingInBounds(p, cfg) {
			out.Decisions.Pricing = append(out.Decisions.Pricing, p)
		}
	}
	return &out
}

func pricingInBounds(p domain.PricingDecision, cfg *config.GameConfig) bool {
	return p.PriceMultiplier > 0 &&
		p.PriceMultiplier >= cfg.Turn.MinPriceMultiplier &&
		p.PriceMultiplier <= cfg.Turn.MaxPriceMultiplier
}
