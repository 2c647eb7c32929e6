package plugins

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/insuresim/underwriter/internal/gamestate"
	"github.com/rs/zerolog"
)

// Hook names used in logs and plugin.error events.
const (
	HookInitialize        = "initialize"
	HookTurnStart         = "on_turn_start"
	HookDecisionSubmitted = "on_decision_submitted"
	HookCalculateResults  = "calculate_results"
	HookTurnComplete      = "on_turn_complete"
	HookCompanyBankrupt   = "on_company_bankrupt"
	HookCatastrophe       = "on_catastrophe"
)

// Status describes one registered plugin.
type Status struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Dependencies []string `json:"dependencies"`
	Order        int      `json:"order"` // position in load order, -1 before Load
	Initialized  bool     `json:"initialized"`
	Enabled      bool     `json:"enabled"`
	LastError    string   `json:"last_error,omitempty"`
}

type entry struct {
	plugin      Plugin
	initialized bool
	enabled     bool
	lastErr     string
}

// Manager owns the plugin set of one process.
type Manager struct {
	events *events.Manager
	log    zerolog.Logger

	mu      sync.RWMutex
	plugins map[string]*entry
	order   []string
}

// NewManager creates an empty plugin manager.
func NewManager(em *events.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		events:  em,
		log:     log.With().Str("service", "plugin_manager").Logger(),
		plugins: make(map[string]*entry),
	}
}

// Discover builds a plugin from every factory and registers it. Factories that
// fail, panic or produce a duplicate name are logged and skipped. Returns the
// number of plugins registered.
func (m *Manager) Discover(ctx context.Context, factories ...Factory) int {
	count := 0
	for i, factory := range factories {
		p, err := build(factory)
		if err != nil {
			m.log.Error().Err(err).Int("factory", i).Msg("Plugin factory failed, skipping")
			continue
		}
		if err := m.Register(ctx, p); err != nil {
			m.log.Error().Err(err).Str("plugin", p.Name()).Msg("Plugin rejected, skipping")
			continue
		}
		count++
	}
	m.log.Info().Int("plugins", count).Int("factories", len(factories)).Msg("Plugins discovered")
	return count
}

func build(factory Factory) (p Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	p, err = factory()
	if err == nil && (p == nil || p.Name() == "") {
		err = fmt.Errorf("factory returned an unnamed plugin")
	}
	return p, err
}

// Register adds a plugin. It takes part in turns only after Load.
func (m *Manager) Register(ctx context.Context, p Plugin) error {
	m.mu.Lock()
	if _, exists := m.plugins[p.Name()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name())
	}
	m.plugins[p.Name()] = &entry{plugin: p}
	m.order = nil
	m.mu.Unlock()

	m.events.Emit(ctx, "plugin_manager", &events.PluginLifecycleData{
		Type:    events.PluginLoaded,
		Plugin:  p.Name(),
		Version: p.Version(),
	})
	return nil
}

// Load orders the registered plugins by dependency and initializes them with
// their settings from game. A dependency error is returned before any plugin
// is initialized. A plugin whose Initialize fails stays registered but disabled.
func (m *Manager) Load(ctx context.Context, game *config.GameConfig) error {
	m.mu.Lock()
	deps := make(map[string][]string, len(m.plugins))
	for name, e := range m.plugins {
		deps[name] = e.plugin.Dependencies()
	}
	order, err := ResolveOrder(deps)
	if err != nil {
		m.mu.Unlock()
		m.log.Error().Err(err).Msg("Plugin dependency resolution failed")
		return err
	}
	m.order = order
	m.mu.Unlock()

	m.initializeAll(ctx, game, true)
	m.log.Info().Strs("order", order).Msg("Plugins loaded")
	return nil
}

// Reload re-initializes every plugin with a new game config, typically the
// base config merged with a semester's overrides. Manual enable state is kept.
func (m *Manager) Reload(ctx context.Context, game *config.GameConfig) error {
	m.mu.RLock()
	loaded := m.order != nil
	m.mu.RUnlock()
	if !loaded {
		return m.Load(ctx, game)
	}
	m.initializeAll(ctx, game, false)
	return nil
}

func (m *Manager) initializeAll(ctx context.Context, game *config.GameConfig, applyEnabled bool) {
	for _, name := range m.loadOrder() {
		e := m.entry(name)
		p := e.plugin

		if missing := m.disabledDependency(p); missing != "" {
			m.setState(name, func(e *entry) {
				e.enabled = false
				e.lastErr = fmt.Sprintf("dependency %s is not available", missing)
			})
			m.log.Warn().Str("plugin", name).Str("dependency", missing).Msg("Plugin disabled, dependency unavailable")
			continue
		}

		err := m.call(ctx, p, HookInitialize, 0, func() error {
			view, err := game.ForPlugin(name)
			if err != nil {
				return err
			}
			return p.Initialize(ctx, PluginConfig{Settings: view.PluginConfig(name), Game: view})
		})
		if err != nil {
			m.setState(name, func(e *entry) {
				e.initialized = false
				e.enabled = false
			})
			continue
		}

		m.setState(name, func(e *entry) {
			wasInitialized := e.initialized
			e.initialized = true
			e.lastErr = ""
			if applyEnabled || !wasInitialized {
				e.enabled = game.IsEnabled(name)
			}
		})
		m.events.Emit(ctx, "plugin_manager", &events.PluginLifecycleData{
			Type:    events.PluginInitialized,
			Plugin:  name,
			Version: p.Version(),
		})
	}
}

// disabledDependency returns the first dependency of p that is not enabled.
func (m *Manager) disabledDependency(p Plugin) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dep := range p.Dependencies() {
		if e, ok := m.plugins[dep]; !ok || !e.initialized || !e.enabled {
			return dep
		}
	}
	return ""
}

// EnablePlugin turns an initialized plugin on. Its dependencies must be enabled.
func (m *Manager) EnablePlugin(ctx context.Context, name string) error {
	m.mu.Lock()
	e, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	if !e.initialized {
		m.mu.Unlock()
		return fmt.Errorf("plugin %s is not initialized", name)
	}
	for _, dep := range e.plugin.Dependencies() {
		if d := m.plugins[dep]; d == nil || !d.enabled {
			m.mu.Unlock()
			return fmt.Errorf("plugin %s requires %s to be enabled", name, dep)
		}
	}
	changed := !e.enabled
	e.enabled = true
	m.mu.Unlock()

	if changed {
		m.lifecycle(ctx, events.PluginEnabled, e.plugin)
	}
	return nil
}

// DisablePlugin turns a plugin off, together with every enabled plugin that
// depends on it.
func (m *Manager) DisablePlugin(ctx context.Context, name string) error {
	m.mu.Lock()
	if _, ok := m.plugins[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	var disabled []Plugin
	m.disableLocked(name, &disabled)
	m.mu.Unlock()

	for _, p := range disabled {
		m.lifecycle(ctx, events.PluginDisabled, p)
	}
	return nil
}

func (m *Manager) disableLocked(name string, disabled *[]Plugin) {
	e := m.plugins[name]
	if e == nil || !e.enabled {
		return
	}
	e.enabled = false
	*disabled = append(*disabled, e.plugin)
	for other, oe := range m.plugins {
		for _, dep := range oe.plugin.Dependencies() {
			if dep == name {
				m.disableLocked(other, disabled)
			}
		}
	}
}

func (m *Manager) lifecycle(ctx context.Context, t events.EventType, p Plugin) {
	m.events.Emit(ctx, "plugin_manager", &events.PluginLifecycleData{Type: t, Plugin: p.Name(), Version: p.Version()})
}

// EnabledPlugins returns the enabled plugins in load order.
func (m *Manager) EnabledPlugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		if e := m.plugins[name]; e.initialized && e.enabled {
			out = append(out, e.plugin)
		}
	}
	return out
}

// EnabledNames returns the names of the enabled plugins in load order.
func (m *Manager) EnabledNames() []string {
	enabled := m.EnabledPlugins()
	names := make([]string, len(enabled))
	for i, p := range enabled {
		names[i] = p.Name()
	}
	return names
}

// Plugin returns a registered plugin by name.
func (m *Manager) Plugin(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.plugins[name]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Statuses lists every registered plugin, in load order once loaded.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	position := make(map[string]int, len(m.order))
	for i, name := range m.order {
		position[name] = i
	}
	out := make([]Status, 0, len(m.plugins))
	for name, e := range m.plugins {
		order, ok := position[name]
		if !ok {
			order = -1
		}
		out = append(out, Status{
			Name:         name,
			Version:      e.plugin.Version(),
			Dependencies: e.plugin.Dependencies(),
			Order:        order,
			Initialized:  e.initialized,
			Enabled:      e.enabled,
			LastError:    e.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// OnTurnStart broadcasts the turn start. Failures are isolated and returned
// for diagnostics only.
func (m *Manager) OnTurnStart(ctx context.Context, turn *domain.Turn, gs *gamestate.State) []error {
	var failures []error
	for _, p := range m.EnabledPlugins() {
		if err := m.call(ctx, p, HookTurnStart, turn.ID, func() error { return p.OnTurnStart(ctx, turn, gs) }); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// ValidateDecision collects every plugin's validation errors for a decision.
// A plugin that fails to validate contributes nothing.
func (m *Manager) ValidateDecision(ctx context.Context, company *domain.Company, decision *domain.Decision, gs *gamestate.State) []domain.ValidationError {
	var out []domain.ValidationError
	for _, p := range m.EnabledPlugins() {
		var res *ValidationResult
		err := m.call(ctx, p, HookDecisionSubmitted, turnIDOf(gs), func() error {
			var err error
			res, err = p.OnDecisionSubmitted(ctx, company, decision, gs)
			return err
		})
		if err != nil || res.Valid() {
			continue
		}
		for _, ve := range res.Errors {
			if ve.Source == "" {
				ve.Source = p.Name()
			}
			out = append(out, ve)
		}
	}
	return out
}

// CalculateResults merges every plugin's results under its name. Failing
// plugins are left out of the map.
func (m *Manager) CalculateResults(ctx context.Context, turn *domain.Turn, companies []domain.Company, gs *gamestate.State) map[string]any {
	results := make(map[string]any)
	for _, p := range m.EnabledPlugins() {
		var res any
		err := m.call(ctx, p, HookCalculateResults, turn.ID, func() error {
			var err error
			res, err = p.CalculateResults(ctx, turn, companies, gs)
			return err
		})
		if err != nil {
			continue
		}
		results[p.Name()] = res
	}
	return results
}

// OnTurnComplete broadcasts the completed turn with the merged results.
func (m *Manager) OnTurnComplete(ctx context.Context, turn *domain.Turn, results map[string]any, gs *gamestate.State) []error {
	var failures []error
	for _, p := range m.EnabledPlugins() {
		if err := m.call(ctx, p, HookTurnComplete, turn.ID, func() error { return p.OnTurnComplete(ctx, turn, results, gs) }); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// OnCompanyBankrupt notifies plugins implementing BankruptcyObserver.
func (m *Manager) OnCompanyBankrupt(ctx context.Context, company *domain.Company, gs *gamestate.State) []error {
	var failures []error
	for _, p := range m.EnabledPlugins() {
		obs, ok := p.(BankruptcyObserver)
		if !ok {
			continue
		}
		if err := m.call(ctx, p, HookCompanyBankrupt, turnIDOf(gs), func() error { return obs.OnCompanyBankrupt(ctx, company, gs) }); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// OnCatastrophe notifies plugins implementing CatastropheObserver.
func (m *Manager) OnCatastrophe(ctx context.Context, cat domain.Catastrophe, gs *gamestate.State) []error {
	var failures []error
	for _, p := range m.EnabledPlugins() {
		obs, ok := p.(CatastropheObserver)
		if !ok {
			continue
		}
		if err := m.call(ctx, p, HookCatastrophe, turnIDOf(gs), func() error { return obs.OnCatastrophe(ctx, cat, gs) }); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// call runs one hook, converting errors and panics into a *HookError that is
// logged and reported as plugin.error.
func (m *Manager) call(ctx context.Context, p Plugin, hook string, turnID int64, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("plugin", p.Name()).
				Str("hook", hook).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Plugin hook panicked")
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &HookError{Plugin: p.Name(), Hook: hook, Err: err}
			m.setState(p.Name(), func(e *entry) { e.lastErr = err.Error() })
			m.log.Error().Err(err).Str("plugin", p.Name()).Str("hook", hook).Int64("turn_id", turnID).Msg("Plugin hook failed")
			m.events.EmitPluginError(ctx, p.Name(), hook, turnID, err)
		}
	}()
	return fn()
}

func (m *Manager) loadOrder() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) entry(name string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plugins[name]
}

func (m *Manager) setState(name string, fn func(e *entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.plugins[name]; ok {
		fn(e)
	}
}

func turnIDOf(gs *gamestate.State) int64 {
	if gs == nil || gs.Turn == nil {
		return 0
	}
	return gs.Turn.ID
}
