package config

import (
	"fmt"
	"os"

	"github.com/insuresim/underwriter/internal/domain"
	"gopkg.in/yaml.v3"
)

// GameConfig holds the game parameters shared by the simulators and plugins.
// A base config is overlaid with semester overrides before each turn.
type GameConfig struct {
	Turn        TurnConfig                `yaml:"turn"`
	Market      MarketConfig              `yaml:"market"`
	Operations  OperationsConfig          `yaml:"operations"`
	Investments InvestmentsConfig         `yaml:"investments"`
	Solvency    SolvencyConfig            `yaml:"solvency"`
	Plugins     map[string]PluginSettings `yaml:"plugins"`
	// Unrecognised top-level keys, kept so plugins can read them.
	Extra map[string]any `yaml:",inline"`
}

// TurnConfig covers turn cadence and decision bounds.
type TurnConfig struct {
	DurationDays       int     `yaml:"duration_days"`
	MinPriceMultiplier float64 `yaml:"min_price_multiplier"`
	MaxPriceMultiplier float64 `yaml:"max_price_multiplier"`
	// Defaulted decisions reuse the previous turn's decision when true.
	CarryForwardDecisions bool `yaml:"carry_forward_decisions"`
}

// MarketConfig covers demand and pricing.
type MarketConfig struct {
	PriceElasticity      float64            `yaml:"price_elasticity"`
	CompetitiveIntensity float64            `yaml:"competitive_intensity"`
	MinShare             float64            `yaml:"min_share"`
	MaxShare             float64            `yaml:"max_share"`
	BasePrice            map[string]float64 `yaml:"base_price"`
	BaseDemand           map[string]float64 `yaml:"base_demand"`
	StateSize            map[string]float64 `yaml:"state_size"`
	DefaultStateSize     float64            `yaml:"default_state_size"`
}

// OperationsConfig covers claims and expenses.
type OperationsConfig struct {
	BaseLossRatio     map[string]float64 `yaml:"base_loss_ratio"`
	ExpenseRatio      float64            `yaml:"expense_ratio"`
	NoiseMin          float64            `yaml:"noise_min"`
	NoiseMax          float64            `yaml:"noise_max"`
	UnpaidClaimsRatio float64            `yaml:"unpaid_claims_ratio"`
	ReserveRunoffRate float64            `yaml:"reserve_runoff_rate"`
}

// InvestmentsConfig covers returns, perception and liquidation.
type InvestmentsConfig struct {
	RiskFreeRate        float64                `yaml:"risk_free_rate"` // annual
	MaxRiskPremium      float64                `yaml:"max_risk_premium"`
	ShockStdDev         float64                `yaml:"shock_std_dev"` // weekly
	IndexHistoryWeeks   int                    `yaml:"index_history_weeks"`
	TrendPeriod         int                    `yaml:"trend_period"`
	PortfolioShare      float64                `yaml:"portfolio_share"` // of capital, for new portfolios
	Default             domain.Characteristics `yaml:"default_characteristics"`
	PerceptionNoise     float64                `yaml:"perception_noise"`
	PerceptionBias      float64                `yaml:"perception_bias"`
	PerfectSkill        float64                `yaml:"perfect_skill"`
	MaxSizePenalty      float64                `yaml:"max_size_penalty"`
	SizePenaltyFloor    float64                `yaml:"size_penalty_floor"`
	MaxExecutionPenalty float64                `yaml:"max_execution_penalty"`
	CatastropheUrgency  float64                `yaml:"catastrophe_urgency"`
}

// SolvencyConfig covers capital requirements.
type SolvencyConfig struct {
	MinimumCapital       float64 `yaml:"minimum_capital"`
	PremiumCapitalFactor float64 `yaml:"premium_capital_factor"` // multiple of the turn's written premium
	StartingCapital      float64 `yaml:"starting_capital"`
}

// PluginSettings is the per-plugin section of the game config.
type PluginSettings struct {
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"plugin_config,omitempty"`
}

// IsEnabled reports whether a plugin should start enabled. Plugins without
// settings are enabled.
func (g *GameConfig) IsEnabled(plugin string) bool {
	s, ok := g.Plugins[plugin]
	if !ok || s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// PluginConfig returns the plugin_config section for one plugin (never nil).
func (g *GameConfig) PluginConfig(plugin string) map[string]any {
	if s, ok := g.Plugins[plugin]; ok && s.Config != nil {
		return s.Config
	}
	return map[string]any{}
}

// ForPlugin returns the view of the config handed to one plugin: a private
// copy of the game parameters whose Plugins section holds only that plugin's
// own entry.
func (g *GameConfig) ForPlugin(plugin string) (*GameConfig, error) {
	b, err := yaml.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config for %s: %w", plugin, err)
	}
	var view GameConfig
	if err := yaml.Unmarshal(b, &view); err != nil {
		return nil, fmt.Errorf("failed to decode config for %s: %w", plugin, err)
	}
	own, ok := view.Plugins[plugin]
	view.Plugins = map[string]PluginSettings{}
	if ok {
		view.Plugins[plugin] = own
	}
	return &view, nil
}

// DefaultGameConfig returns the built-in game parameters.
func DefaultGameConfig() *GameConfig {
	return &GameConfig{
		Turn: TurnConfig{
			DurationDays:          7,
			MinPriceMultiplier:    0.5,
			MaxPriceMultiplier:    2.0,
			CarryForwardDecisions: true,
		},
		Market: MarketConfig{
			PriceElasticity:      1.5,
			CompetitiveIntensity: 0.5,
			MinShare:             0.01,
			MaxShare:             0.90,
			BasePrice: map[string]float64{
				"personal_auto":       1000,
				"homeowners":          1200,
				"general_liability":   1500,
				"workers_comp":        1800,
				"commercial_property": 2000,
			},
			BaseDemand: map[string]float64{
				"personal_auto":       1000000,
				"homeowners":          800000,
				"general_liability":   600000,
				"workers_comp":        500000,
				"commercial_property": 700000,
			},
			StateSize: map[string]float64{
				"CA": 1.5,
				"TX": 1.3,
				"NY": 1.3,
				"FL": 1.2,
			},
			DefaultStateSize: 1.0,
		},
		Operations: OperationsConfig{
			BaseLossRatio: map[string]float64{
				"personal_auto":       0.68,
				"homeowners":          0.62,
				"general_liability":   0.60,
				"workers_comp":        0.65,
				"commercial_property": 0.58,
			},
			ExpenseRatio:      0.25,
			NoiseMin:          0.9,
			NoiseMax:          1.1,
			UnpaidClaimsRatio: 0.3,
			ReserveRunoffRate: 0.25,
		},
		Investments: InvestmentsConfig{
			RiskFreeRate:      0.03,
			MaxRiskPremium:    0.08,
			ShockStdDev:       0.01,
			IndexHistoryWeeks: 26,
			TrendPeriod:       8,
			PortfolioShare:    0.8,
			Default: domain.Characteristics{
				Risk:            50,
				Duration:        50,
				Liquidity:       60,
				CreditQuality:   70,
				Diversification: 60,
			},
			PerceptionNoise:     15,
			PerceptionBias:      10,
			PerfectSkill:        95,
			MaxSizePenalty:      0.10,
			SizePenaltyFloor:    0.10,
			MaxExecutionPenalty: 0.03,
			CatastropheUrgency:  1.5,
		},
		Solvency: SolvencyConfig{
			MinimumCapital:       5000000,
			PremiumCapitalFactor: 1.5,
			StartingCapital:      10000000,
		},
		Plugins: map[string]PluginSettings{},
	}
}

// LoadGameConfig reads a YAML file over the built-in defaults. An empty path
// returns the defaults.
func LoadGameConfig(path string) (*GameConfig, error) {
	base := DefaultGameConfig()
	if path == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game config: %w", err)
	}
	cfg, err := MergeGameConfig(base, string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to load game config %s: %w", path, err)
	}
	return cfg, nil
}

// MergeGameConfig deep-merges a YAML overlay onto base and returns a new config.
// Maps merge key by key; scalars and lists in the overlay replace base values.
// base is not modified.
func MergeGameConfig(base *GameConfig, overlay string) (*GameConfig, error) {
	baseMap, err := toMap(base)
	if err != nil {
		return nil, err
	}

	var overMap map[string]any
	if err := yaml.Unmarshal([]byte(overlay), &overMap); err != nil {
		return nil, fmt.Errorf("failed to parse overrides: %w", err)
	}

	merged := deepMerge(baseMap, overMap)
	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged config: %w", err)
	}

	var cfg GameConfig
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode merged config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginSettings{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the simulators rely on.
func (g *GameConfig) Validate() error {
	if g.Market.MinShare <= 0 || g.Market.MaxShare > 1 || g.Market.MinShare >= g.Market.MaxShare {
		return fmt.Errorf("market share bounds [%v, %v] are invalid", g.Market.MinShare, g.Market.MaxShare)
	}
	if g.Operations.NoiseMin <= 0 || g.Operations.NoiseMin > g.Operations.NoiseMax {
		return fmt.Errorf("operations noise bounds [%v, %v] are invalid", g.Operations.NoiseMin, g.Operations.NoiseMax)
	}
	if g.Turn.MinPriceMultiplier <= 0 || g.Turn.MinPriceMultiplier > g.Turn.MaxPriceMultiplier {
		return fmt.Errorf("price multiplier bounds [%v, %v] are invalid", g.Turn.MinPriceMultiplier, g.Turn.MaxPriceMultiplier)
	}
	for line, price := range g.Market.BasePrice {
		if price <= 0 {
			return fmt.Errorf("base price for %s must be positive", line)
		}
	}
	return nil
}

// DecodePluginConfig decodes a plugin_config section into a typed struct.
// Fields missing from raw keep their current values in out.
func DecodePluginConfig(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode plugin config: %w", err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode plugin config: %w", err)
	}
	return nil
}

func toMap(cfg *GameConfig) (map[string]any, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode base config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode base config: %w", err)
	}
	return m, nil
}

func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(bv, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}
