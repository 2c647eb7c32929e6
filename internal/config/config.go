// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from the environment.
type Config struct {
	DataDir        string // Base directory for the game database (always absolute)
	LogLevel       string
	Port           int
	DevMode        bool
	GameConfigPath string // Optional YAML file overriding the built-in game defaults
	TurnSchedule   string // Cron spec (with seconds) for weekly turn processing
	NotifyWebhook  string
	// Semesters processed by the scheduler. Empty means every active semester.
	ActiveSemesters []int64
	Archive         *ArchiveConfig
}

// ArchiveConfig configures the turn archive object store.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// Enabled reports whether archives should be uploaded.
func (a *ArchiveConfig) Enabled() bool {
	return a != nil && a.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("UNDERWRITER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	semesters, err := parseIDList(getEnv("ACTIVE_SEMESTERS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid ACTIVE_SEMESTERS: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnvAsInt("HTTP_PORT", 8080),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		GameConfigPath:  getEnv("GAME_CONFIG_PATH", ""),
		TurnSchedule:    getEnv("TURN_SCHEDULE", "0 0 6 * * MON"),
		NotifyWebhook:   getEnv("NOTIFY_WEBHOOK_URL", ""),
		ActiveSemesters: semesters,
		Archive: &ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvAsBool("ARCHIVE_S3_PATH_STYLE", false),
			Prefix:          getEnv("ARCHIVE_S3_PREFIX", "turns"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.Port)
	}
	if strings.TrimSpace(c.TurnSchedule) == "" {
		return fmt.Errorf("TURN_SCHEDULE must not be empty")
	}
	if c.Archive.Enabled() && c.Archive.Region == "" {
		return fmt.Errorf("ARCHIVE_S3_REGION is required when ARCHIVE_S3_BUCKET is set")
	}
	return nil
}

// DatabasePath returns the path of the game database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "underwriter.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseIDList(value string) ([]int64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an id", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
