package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionCategory keys one part of the decision bag.
type DecisionCategory string

const (
	CategoryPricing     DecisionCategory = "pricing"
	CategoryExpansion   DecisionCategory = "expansion"
	CategoryProducts    DecisionCategory = "products"
	CategoryHiring      DecisionCategory = "hiring"
	CategoryInvestments DecisionCategory = "investments"
)

// Baseline pricing assumed when a company submitted nothing for a segment.
const (
	DefaultPriceMultiplier   = 1.0
	DefaultExpectedLossRatio = 0.65
)

// Decision is a company's submitted choices for one turn (CompanyTurnDecision).
// Exactly one exists per (company, turn).
type Decision struct {
	ID               int64             `json:"id"`
	CompanyID        int64             `json:"company_id"`
	TurnID           int64             `json:"turn_id"`
	Decisions        DecisionBag       `json:"decisions"`
	IsDefault        bool              `json:"is_default"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	Valid            bool              `json:"valid"`
	ValidationErrors []ValidationError `json:"validation_errors,omitempty"`
}

// DecisionBag holds the decision categories.
type DecisionBag struct {
	Pricing     []PricingDecision     `json:"pricing,omitempty"`
	Expansion   []ExpansionRequest    `json:"expansion,omitempty"`
	Products    []ProductChange       `json:"products,omitempty"`
	Hiring      *HiringDecision       `json:"hiring,omitempty"`
	Investments *InvestmentPreference `json:"investments,omitempty"`
}

// IsEmpty reports whether no category carries a choice.
func (b DecisionBag) IsEmpty() bool {
	return len(b.Pricing) == 0 && len(b.Expansion) == 0 && len(b.Products) == 0 &&
		b.Hiring == nil && b.Investments == nil
}

// PricingFor returns the pricing decision covering a segment. A decision with an
// empty state applies to the line in every state; an exact state match wins.
func (b DecisionBag) PricingFor(seg Segment) (PricingDecision, bool) {
	var fallback *PricingDecision
	for i := range b.Pricing {
		p := b.Pricing[i]
		if p.Line != seg.Line {
			continue
		}
		if p.State == seg.State {
			return p, true
		}
		if p.State == "" && fallback == nil {
			fallback = &b.Pricing[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return PricingDecision{}, false
}

// PricingDecision sets the price of a line (optionally for one state).
type PricingDecision struct {
	State             string         `json:"state,omitempty"`
	Line              LineOfBusiness `json:"line"`
	PriceMultiplier   float64        `json:"price_multiplier"`
	ExpectedLossRatio float64        `json:"expected_loss_ratio,omitempty"`
}

// ExpansionRequest asks for authorization to write lines in a new state.
type ExpansionRequest struct {
	State string           `json:"state"`
	Lines []LineOfBusiness `json:"lines"`
}

// ProductChange switches the tier sold in a segment.
type ProductChange struct {
	State string         `json:"state"`
	Line  LineOfBusiness `json:"line"`
	Tier  ProductTier    `json:"tier"`
}

// HiringDecision covers staffing spend.
type HiringDecision struct {
	CFOTrainingBudget decimal.Decimal `json:"cfo_training_budget"`
}

// InvestmentPreference is the portfolio the company wants to steer toward.
type InvestmentPreference struct {
	Target Characteristics `json:"target"`
}

// ValidationError is one problem found in a decision.
type ValidationError struct {
	Source  string `json:"source"` // "builtin" or the plugin name
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}
