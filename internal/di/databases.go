package di

import (
	"fmt"

	"github.com/insuresim/underwriter/internal/config"
	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/rs/zerolog"
)

// InitializeDatabase opens and migrates the game database and builds the
// repository store.
func InitializeDatabase(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	profile := database.ProfileLedger
	if cfg.DevMode {
		profile = database.ProfileStandard
	}
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: profile,
		Name:    "game",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize game database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate game database: %w", err)
	}

	log.Info().Str("path", cfg.DatabasePath()).Str("profile", string(profile)).Msg("Game database ready")
	return &Container{
		DB:    db,
		Store: repositories.NewStore(db.Conn(), log),
	}, nil
}
