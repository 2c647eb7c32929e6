package plugins

import (
	"context"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/gamestate"
)

// Base provides metadata and no-op hooks. Embed it and override what the
// plugin needs.
type Base struct {
	PluginName    string
	PluginVersion string
	Requires      []string
}

func (b *Base) Name() string           { return b.PluginName }
func (b *Base) Version() string        { return b.PluginVersion }
func (b *Base) Dependencies() []string { return b.Requires }

func (b *Base) Initialize(context.Context, PluginConfig) error { return nil }

func (b *Base) OnTurnStart(context.Context, *domain.Turn, *gamestate.State) error { return nil }

func (b *Base) OnDecisionSubmitted(context.Context, *domain.Company, *domain.Decision, *gamestate.State) (*ValidationResult, error) {
	return nil, nil
}

func (b *Base) CalculateResults(context.Context, *domain.Turn, []domain.Company, *gamestate.State) (any, error) {
	return nil, nil
}

func (b *Base) OnTurnComplete(context.Context, *domain.Turn, map[string]any, *gamestate.State) error {
	return nil
}
