// Package main is the entry point for the underwriter game server.
// It runs the weekly turn engine, the background work processor and the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/di"
	"github.com/insuresim/underwriter/internal/server"
	"github.com/insuresim/underwriter/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting underwriter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	go container.Work.Processor.Run()
	log.Info().Msg("Work processor started")

	container.Scheduler.Start()
	log.Info().
		Str("turn_schedule", cfg.TurnSchedule).
		Str("process_turns", jobs.ProcessTurns.Name()).
		Str("check_database", jobs.CheckDatabase.Name()).
		Msg("Scheduler started")

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		DB:           container.DB,
		Store:        container.Store,
		Orchestrator: container.Orchestrator,
		Plugins:      container.Plugins,
		Bus:          container.EventBus,
		WorkRegistry: container.Work.Registry,
		Work:         container.Work.Processor,
		Scheduler:    container.Scheduler,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Running jobs finish before the processor and bus stop.
	container.Scheduler.Stop()
	container.Work.Processor.Stop()
	container.EventBus.Wait()

	log.Info().Msg("Server stopped")
}
