// Package plugins defines the feature plugin contract and the manager that
// loads plugins in dependency order and broadcasts turn hooks to them.
package plugins

import (
	"context"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/shopspring/decimal"
)

// Plugin is a feature module taking part in the turn lifecycle. Plugins never
// reference each other directly; they share data through the game state.
type Plugin interface {
	Name() string
	Version() string
	// Dependencies lists plugin names that must be initialized first.
	Dependencies() []string

	Initialize(ctx context.Context, cfg PluginConfig) error
	OnTurnStart(ctx context.Context, turn *domain.Turn, gs *gamestate.State) error
	// OnDecisionSubmitted validates a company's decision. A nil result means no objections.
	OnDecisionSubmitted(ctx context.Context, company *domain.Company, decision *domain.Decision, gs *gamestate.State) (*ValidationResult, error)
	// CalculateResults returns the plugin's results for the turn, keyed by the
	// plugin name in the merged results map.
	CalculateResults(ctx context.Context, turn *domain.Turn, companies []domain.Company, gs *gamestate.State) (any, error)
	OnTurnComplete(ctx context.Context, turn *domain.Turn, results map[string]any, gs *gamestate.State) error
}

// BankruptcyObserver is implemented by plugins that react to bankruptcies.
type BankruptcyObserver interface {
	OnCompanyBankrupt(ctx context.Context, company *domain.Company, gs *gamestate.State) error
}

// CatastropheObserver is implemented by plugins that react to catastrophes.
type CatastropheObserver interface {
	OnCatastrophe(ctx context.Context, cat domain.Catastrophe, gs *gamestate.State) error
}

// CapitalAdjuster is implemented by plugin results that change company
// capital, such as fines or expansion fees. Negative amounts are charges.
type CapitalAdjuster interface {
	CapitalAdjustments() map[int64]decimal.Decimal
}

// ValidationResult is a plugin's verdict on a decision.
type ValidationResult struct {
	Errors []domain.ValidationError
}

// Valid reports whether no errors were found.
func (v *ValidationResult) Valid() bool {
	return v == nil || len(v.Errors) == 0
}

// Add appends an error attributed to source.
func (v *ValidationResult) Add(source, field, message string) {
	v.Errors = append(v.Errors, domain.ValidationError{Source: source, Field: field, Message: message})
}

// PluginConfig is handed to Initialize: the plugin's own settings plus the
// merged game config.
type PluginConfig struct {
	Settings map[string]any
	Game     *config.GameConfig
}

// Decode fills out from the plugin's settings.
func (c PluginConfig) Decode(out any) error {
	return config.DecodePluginConfig(c.Settings, out)
}

// Factory builds a plugin. Factories capture their dependencies.
type Factory func() (Plugin, error)
