package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultHistorySize bounds the in-memory event history.
	DefaultHistorySize = 1000
	// MaxHandlerErrors bounds the error log kept per handler.
	MaxHandlerErrors = 100
)

// Handler reacts to an event. Returned errors are recorded, never propagated.
type Handler func(ctx context.Context, event *Event) error

// HandlerError is a captured handler failure.
type HandlerError struct {
	Handler   string    `json:"handler"`
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Error     string    `json:"error"`
	Panic     bool      `json:"panic"`
	At        time.Time `json:"at"`
}

// HistoryFilter narrows History results. Zero values match everything.
type HistoryFilter struct {
	Type   EventType
	Source string
	Limit  int
}

// HandlerInfo describes a registration, for diagnostics.
type HandlerInfo struct {
	Name     string    `json:"name"`
	Pattern  EventType `json:"pattern"`
	Priority string    `json:"priority"`
	Plugin   string    `json:"plugin,omitempty"`
}

type registration struct {
	name     string
	pattern  EventType
	priority Priority
	plugin   string
	handler  Handler
	seq      uint64
}

type emitOptions struct {
	correlationID string
	wait          bool
}

// EmitOption customises a single Emit call.
type EmitOption func(*emitOptions)

// WithCorrelationID links the event to an existing flow (e.g. a turn run).
func WithCorrelationID(id string) EmitOption {
	return func(o *emitOptions) { o.correlationID = id }
}

// WithoutWaiting dispatches handlers in the background; Emit returns immediately.
func WithoutWaiting() EmitOption {
	return func(o *emitOptions) { o.wait = false }
}

// Bus is an in-process publish/subscribe hub. It is safe for concurrent use.
// Each Bus is independent; callers own its lifetime.
type Bus struct {
	mu   sync.RWMutex
	regs []registration
	seq  uint64

	historyMu   sync.RWMutex
	history     []*Event
	historyNext int
	historySize int
	historyFull bool

	errMu  sync.Mutex
	errors map[string][]HandlerError

	pending sync.WaitGroup
	now     func() time.Time
	log     zerolog.Logger
}

// NewBus creates a bus with the default history size.
func NewBus(log zerolog.Logger) *Bus {
	return NewBusWithHistory(log, DefaultHistorySize)
}

// NewBusWithHistory creates a bus keeping at most size events in history.
func NewBusWithHistory(log zerolog.Logger, size int) *Bus {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Bus{
		history:     make([]*Event, size),
		historySize: size,
		errors:      make(map[string][]HandlerError),
		now:         time.Now,
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Register associates handler with one or more event types or patterns.
// A handler name registered twice for the same pattern keeps the first registration.
func (b *Bus) Register(types []EventType, name string, handler Handler, priority Priority, plugin string) error {
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler %s is nil", name)
	}
	if len(types) == 0 {
		return fmt.Errorf("handler %s: no event types", name)
	}
	if priority < PriorityHighest || priority > PriorityLowest {
		return fmt.Errorf("handler %s: invalid priority %d", name, priority)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		if b.registeredLocked(name, t) {
			continue
		}
		b.seq++
		b.regs = append(b.regs, registration{
			name:     name,
			pattern:  t,
			priority: priority,
			plugin:   plugin,
			handler:  handler,
			seq:      b.seq,
		})
	}

	b.log.Debug().
		Str("handler", name).
		Str("plugin", plugin).
		Str("priority", priority.String()).
		Int("types", len(types)).
		Msg("Handler registered")
	return nil
}

func (b *Bus) registeredLocked(name string, pattern EventType) bool {
	for _, r := range b.regs {
		if r.name == name && r.pattern == pattern {
			return true
		}
	}
	return false
}

// Unregister removes every registration of the named handler and returns the count removed.
func (b *Bus) Unregister(name string) int {
	return b.removeWhere(func(r registration) bool { return r.name == name })
}

// UnregisterPlugin removes every registration made on behalf of plugin.
func (b *Bus) UnregisterPlugin(plugin string) int {
	if plugin == "" {
		return 0
	}
	return b.removeWhere(func(r registration) bool { return r.plugin == plugin })
}

func (b *Bus) removeWhere(match func(registration) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.regs[:0]
	removed := 0
	for _, r := range b.regs {
		if match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	// clear the tail so dropped handlers can be collected
	for i := len(kept); i < len(b.regs); i++ {
		b.regs[i] = registration{}
	}
	b.regs = kept
	return removed
}

// Handlers lists current registrations in dispatch order.
func (b *Bus) Handlers() []HandlerInfo {
	b.mu.RLock()
	regs := append([]registration(nil), b.regs...)
	b.mu.RUnlock()

	sortRegistrations(regs)
	out := make([]HandlerInfo, 0, len(regs))
	for _, r := range regs {
		out = append(out, HandlerInfo{Name: r.name, Pattern: r.pattern, Priority: r.priority.String(), Plugin: r.plugin})
	}
	return out
}

// Emit builds an event, records it in history and dispatches it to matching handlers.
// By default every handler has run by the time Emit returns.
func (b *Bus) Emit(ctx context.Context, eventType EventType, data EventData, source string, opts ...EmitOption) *Event {
	o := emitOptions{wait: true}
	for _, opt := range opts {
		opt(&o)
	}

	event := &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		CorrelationID: o.correlationID,
		Timestamp:     b.now().UTC(),
		Data:          data,
	}
	if event.CorrelationID == "" {
		event.CorrelationID = event.ID
	}

	b.record(event)
	handlers := b.match(eventType)
	if len(handlers) == 0 {
		return event
	}

	if o.wait {
		b.dispatch(ctx, event, handlers)
		return event
	}

	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		b.dispatch(context.WithoutCancel(ctx), event, handlers)
	}()
	return event
}

// Wait blocks until background dispatches started with WithoutWaiting finish.
func (b *Bus) Wait() {
	b.pending.Wait()
}

// match returns handlers for eventType in dispatch order, one per handler name.
func (b *Bus) match(eventType EventType) []registration {
	b.mu.RLock()
	var matched []registration
	for _, r := range b.regs {
		if r.pattern.Matches(eventType) {
			matched = append(matched, r)
		}
	}
	b.mu.RUnlock()

	sortRegistrations(matched)
	seen := make(map[string]struct{}, len(matched))
	out := matched[:0]
	for _, r := range matched {
		if _, ok := seen[r.name]; ok {
			continue
		}
		seen[r.name] = struct{}{}
		out = append(out, r)
	}
	return out
}

func sortRegistrations(regs []registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
}

func (b *Bus) dispatch(ctx context.Context, event *Event, handlers []registration) {
	for _, r := range handlers {
		b.invoke(ctx, event, r)
	}
}

func (b *Bus) invoke(ctx context.Context, event *Event, r registration) {
	var (
		err      error
		panicked bool
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				panicked = true
				err = fmt.Errorf("panic: %v", rec)
				b.log.Error().
					Str("handler", r.name).
					Str("event_id", event.ID).
					Str("event_type", string(event.Type)).
					Str("stack", string(debug.Stack())).
					Msg("Event handler panicked")
			}
		}()
		err = r.handler(ctx, event)
	}()

	if err == nil {
		return
	}
	if !panicked {
		b.log.Error().
			Err(err).
			Str("handler", r.name).
			Str("plugin", r.plugin).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Event handler failed")
	}
	b.recordError(HandlerError{
		Handler:   r.name,
		EventID:   event.ID,
		EventType: event.Type,
		Error:     err.Error(),
		Panic:     panicked,
		At:        b.now().UTC(),
	})
}

func (b *Bus) recordError(he HandlerError) {
	b.errMu.Lock()
	defer b.errMu.Unlock()

	list := append(b.errors[he.Handler], he)
	if len(list) > MaxHandlerErrors {
		list = append([]HandlerError(nil), list[len(list)-MaxHandlerErrors:]...)
	}
	b.errors[he.Handler] = list
}

// HandlerErrors returns recorded failures for a handler, oldest first.
// An empty name returns failures for every handler.
func (b *Bus) HandlerErrors(name string) []HandlerError {
	b.errMu.Lock()
	defer b.errMu.Unlock()

	if name != "" {
		return append([]HandlerError(nil), b.errors[name]...)
	}
	var all []HandlerError
	for _, list := range b.errors {
		all = append(all, list...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].At.Before(all[j].At) })
	return all
}

func (b *Bus) record(event *Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history[b.historyNext] = event
	b.historyNext = (b.historyNext + 1) % b.historySize
	if b.historyNext == 0 {
		b.historyFull = true
	}
}

// History returns buffered events matching filter, oldest first.
// Limit keeps the most recent matches.
func (b *Bus) History(filter HistoryFilter) []Event {
	b.historyMu.RLock()
	ordered := make([]*Event, 0, b.historySize)
	if b.historyFull {
		ordered = append(ordered, b.history[b.historyNext:]...)
	}
	ordered = append(ordered, b.history[:b.historyNext]...)
	b.historyMu.RUnlock()

	out := make([]Event, 0, len(ordered))
	for _, e := range ordered {
		if filter.Type != "" && !filter.Type.Matches(e.Type) {
			continue
		}
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		out = append(out, *e)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}
