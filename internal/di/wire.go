package di

import (
	"context"
	"fmt"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container
// Order of operations:
// 1. Database and repositories
// 2. Event system
// 3. Work processor
// 4. Plugins, orchestrator and background services
// 5. Work types and jobs
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	fail := func(step string, err error) (*Container, *JobInstances, error) {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize %s: %w", step, err)
	}

	if err := InitializeEvents(container, log); err != nil {
		return fail("events", err)
	}
	InitializeWork(container, log)
	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		return fail("services", err)
	}
	if err := RegisterWork(container); err != nil {
		return fail("work", err)
	}
	jobs, err := RegisterJobs(container, cfg, log)
	if err != nil {
		return fail("jobs", err)
	}

	log.Info().
		Strs("plugins", container.Plugins.EnabledNames()).
		Strs("work_types", container.Work.Registry.IDs()).
		Msg("Dependencies wired")
	return container, jobs, nil
}
