// Package domain provides the core entities of the insurance management game.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineOfBusiness identifies an insurance product line.
type LineOfBusiness string

const (
	LinePersonalAuto       LineOfBusiness = "personal_auto"
	LineHomeowners         LineOfBusiness = "homeowners"
	LineGeneralLiability   LineOfBusiness = "general_liability"
	LineWorkersComp        LineOfBusiness = "workers_comp"
	LineCommercialProperty LineOfBusiness = "commercial_property"
)

// AllLines returns every line of business in a stable order.
func AllLines() []LineOfBusiness {
	return []LineOfBusiness{
		LinePersonalAuto,
		LineHomeowners,
		LineGeneralLiability,
		LineWorkersComp,
		LineCommercialProperty,
	}
}

// IsValid reports whether the line is one of the known lines.
func (l LineOfBusiness) IsValid() bool {
	for _, known := range AllLines() {
		if l == known {
			return true
		}
	}
	return false
}

// ProductTier is the product quality level a company sells in a segment.
type ProductTier string

const (
	TierBasic    ProductTier = "basic"
	TierStandard ProductTier = "standard"
	TierPremium  ProductTier = "premium"
)

// LossMultiplier scales the line's base loss ratio.
// Basic products attract worse risks, premium products better ones.
func (t ProductTier) LossMultiplier() float64 {
	switch t {
	case TierBasic:
		return 1.3
	case TierPremium:
		return 0.9
	default:
		return 1.0
	}
}

// IsValid reports whether the tier is known.
func (t ProductTier) IsValid() bool {
	return t == TierBasic || t == TierStandard || t == TierPremium
}

// Segment is a (state, line of business) pair in which companies compete.
type Segment struct {
	State string         `json:"state"`
	Line  LineOfBusiness `json:"line"`
}

// String renders the segment as "STATE:line".
func (s Segment) String() string {
	return s.State + ":" + string(s.Line)
}

// ParseSegment parses the String form of a segment.
func ParseSegment(value string) (Segment, error) {
	state, line, ok := strings.Cut(value, ":")
	if !ok || state == "" || line == "" {
		return Segment{}, fmt.Errorf("invalid segment %q", value)
	}
	return Segment{State: state, Line: LineOfBusiness(line)}, nil
}

// Semester groups the companies and turns of one class run.
type Semester struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	IsActive        bool      `json:"is_active"`
	ConfigOverrides string    `json:"config_overrides,omitempty"` // YAML overlay on the base game config
	CreatedAt       time.Time `json:"created_at"`
}

// CompanyStatus is the operational status of a company.
type CompanyStatus string

const (
	CompanyActive      CompanyStatus = "active"
	CompanyLiquidating CompanyStatus = "liquidating"
	CompanyBankrupt    CompanyStatus = "bankrupt"
)

// Company is a player or AI controlled insurer. Companies are never deleted;
// bankruptcy is terminal.
type Company struct {
	ID               int64           `json:"id"`
	SemesterID       int64           `json:"semester_id"`
	Name             string          `json:"name"`
	IsAI             bool            `json:"is_ai"`
	HomeState        string          `json:"home_state"`
	CurrentCapital   decimal.Decimal `json:"current_capital"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	SolvencyRatio    *float64        `json:"solvency_ratio,omitempty"`
	CFOSkill         float64         `json:"cfo_skill"`
	Status           CompanyStatus   `json:"status"`
	BankruptAt       *time.Time      `json:"bankrupt_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsOperating reports whether the company still takes part in turns.
func (c *Company) IsOperating() bool {
	return c.Status != CompanyBankrupt
}

// CompanySegment records a company's authorization to write a line in a state.
type CompanySegment struct {
	CompanyID        int64          `json:"company_id"`
	State            string         `json:"state"`
	Line             LineOfBusiness `json:"line"`
	Tier             ProductTier    `json:"tier"`
	AuthorizedTurnID int64          `json:"authorized_turn_id"`
}

// Segment returns the (state, line) pair of the authorization.
func (s CompanySegment) Segment() Segment {
	return Segment{State: s.State, Line: s.Line}
}

// MarketCondition holds the demand parameters of one segment for one turn.
type MarketCondition struct {
	ID                   int64           `json:"id"`
	TurnID               int64           `json:"turn_id"`
	State                string          `json:"state"`
	Line                 LineOfBusiness  `json:"line"`
	BaseDemand           decimal.Decimal `json:"base_demand"`
	PriceElasticity      float64         `json:"price_elasticity"`
	CompetitiveIntensity float64         `json:"competitive_intensity"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Segment returns the (state, line) pair of the condition.
func (m MarketCondition) Segment() Segment {
	return Segment{State: m.State, Line: m.Line}
}

// GameEvent is an append-only audit log entry partitioned by semester.
type GameEvent struct {
	ID            int64     `json:"id"`
	SemesterID    int64     `json:"semester_id"`
	TurnID        *int64    `json:"turn_id,omitempty"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Payload       string    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}
