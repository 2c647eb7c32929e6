package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/insuresim/underwriter/internal/modules/expansion"
	"github.com/insuresim/underwriter/internal/modules/marketevents"
	"github.com/insuresim/underwriter/internal/modules/portfolio"
	"github.com/insuresim/underwriter/internal/modules/regulatory"
	"github.com/insuresim/underwriter/internal/notifications"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/insuresim/underwriter/internal/reliability"
	"github.com/insuresim/underwriter/internal/turns"
	"github.com/rs/zerolog"
)

// PluginFactories returns the factories of the built-in plugins.
func PluginFactories(c *Container, log zerolog.Logger) []plugins.Factory {
	return []plugins.Factory{
		regulatory.NewFactory(c.Store.DB(), log),
		marketevents.NewFactory(log),
		expansion.NewFactory(c.Store, log),
		portfolio.NewFactory(c.Store, log),
	}
}

// InitializeEvents builds the event bus and attaches the game event recorder.
func InitializeEvents(c *Container, log zerolog.Logger) error {
	c.EventBus = events.NewBus(log)
	c.EventManager = events.NewManager(c.EventBus, log)
	c.Recorder = events.NewRecorder(c.Store, log)
	if err := c.Recorder.Attach(c.EventBus); err != nil {
		return fmt.Errorf("failed to attach event recorder: %w", err)
	}
	return nil
}

// InitializeServices builds the plugins, orchestrator and the notification
// and archive services. The work processor must exist.
func InitializeServices(ctx context.Context, c *Container, cfg *config.Config, log zerolog.Logger) error {
	game, err := config.LoadGameConfig(cfg.GameConfigPath)
	if err != nil {
		return err
	}
	c.Game = game

	c.Plugins = plugins.NewManager(c.EventManager, log)
	c.Plugins.Discover(ctx, PluginFactories(c, log)...)
	if err := c.Plugins.Load(ctx, game); err != nil {
		return fmt.Errorf("failed to load plugins: %w", err)
	}

	senders := []notifications.Sender{notifications.NewLogSender(log)}
	if cfg.NotifyWebhook != "" {
		senders = append(senders, notifications.NewWebhookSender(cfg.NotifyWebhook, log))
	}
	c.Notifications = notifications.NewService(c.Store, c.Work.Processor, c.EventManager, senders, log)

	c.Orchestrator = turns.NewOrchestrator(c.Store, c.Plugins, c.EventManager, game, c.Notifications, log)

	uploader, err := newUploader(ctx, cfg, log)
	if err != nil {
		return err
	}
	prefix := ""
	if cfg.Archive.Enabled() {
		prefix = cfg.Archive.Prefix
	}
	c.Archiver = reliability.NewArchiver(c.Store, uploader, c.EventManager, prefix, log)
	c.Maintenance = reliability.NewDatabaseMaintenance(c.DB, log)
	return nil
}

// newUploader uploads to S3 when a bucket is configured and to the data
// directory otherwise.
func newUploader(ctx context.Context, cfg *config.Config, log zerolog.Logger) (reliability.Uploader, error) {
	if !cfg.Archive.Enabled() {
		dir := filepath.Join(cfg.DataDir, "archives")
		log.Info().Str("dir", dir).Msg("Turn archives stored locally")
		return reliability.NewDirUploader(dir), nil
	}
	a := cfg.Archive
	return reliability.NewS3Uploader(ctx, reliability.S3Config{
		Bucket:          a.Bucket,
		Region:          a.Region,
		Endpoint:        a.Endpoint,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
		PathStyle:       a.UsePathStyle,
	}, log)
}
