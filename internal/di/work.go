package di

import (
	"github.com/insuresim/underwriter/internal/work"
	"github.com/rs/zerolog"
)

// idleFunc adapts a function to work.IdleChecker. The orchestrator is built
// after the processor, so the check resolves it lazily.
type idleFunc func() bool

func (f idleFunc) Busy() bool { return f() }

// InitializeWork creates the work processor. The event system must exist. Work types are registered by
// RegisterWork once the services exist.
func InitializeWork(c *Container, log zerolog.Logger) {
	registry := work.NewRegistry()
	completion := work.NewCompletionTracker()
	busy := idleFunc(func() bool {
		return c.Orchestrator != nil && c.Orchestrator.Busy()
	})
	c.Work = &WorkComponents{
		Registry:   registry,
		Completion: completion,
		Processor:  work.NewProcessor(registry, completion, busy, c.EventManager, log),
	}
}

// RegisterWork registers the work types and the event triggers.
func RegisterWork(c *Container) error {
	work.RegisterTurnWork(c.Work.Registry, work.TurnWorkDeps{
		Notifier:    c.Notifications,
		Archiver:    c.Archiver,
		Maintenance: c.Maintenance,
	})
	return work.RegisterTriggers(c.EventBus, c.Work.Processor, true)
}
