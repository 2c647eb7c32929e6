// Package di wires the game server: database, repositories, event system,
// plugins, turn orchestrator and background services.
package di

import (
	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/insuresim/underwriter/internal/notifications"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/insuresim/underwriter/internal/reliability"
	"github.com/insuresim/underwriter/internal/scheduler"
	"github.com/insuresim/underwriter/internal/turns"
	"github.com/insuresim/underwriter/internal/work"
)

// Container holds every wired dependency.
type Container struct {
	// Database
	DB    *database.DB
	Store *repositories.Store

	// Game configuration before semester overrides
	Game *config.GameConfig

	// Event system
	EventBus     *events.Bus
	EventManager *events.Manager
	Recorder     *events.Recorder

	// Turn engine
	Plugins      *plugins.Manager
	Orchestrator *turns.Orchestrator

	// Background services
	Notifications *notifications.Service
	Archiver      *reliability.Archiver
	Maintenance   *reliability.DatabaseMaintenance
	Work          *WorkComponents
	Scheduler     *scheduler.Scheduler
}

// WorkComponents groups the work processor parts.
type WorkComponents struct {
	Registry   *work.Registry
	Completion *work.CompletionTracker
	Processor  *work.Processor
}

// Close releases the database.
func (c *Container) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
