// Package testing provides testing utilities and helpers for the underwriter project.
package testing

import (
	"os"
	"testing"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// NewTestDB creates a file-backed SQLite database with the game schema applied.
// Returns the database instance and a cleanup function that closes the connection.
// The cleanup function is idempotent and can be called multiple times safely.
func NewTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	// Temporary files keep each test's database isolated
	tmpFile, err := os.CreateTemp("", "test_game_*.db")
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "game",
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(tmpPath + suffix); err != nil && !os.IsNotExist(err) {
				t.Logf("Warning: Failed to remove %s: %v", tmpPath+suffix, err)
			}
		}
	}
}

// NewTestStore returns a repository store over a fresh test database.
// The database is closed when the test ends.
func NewTestStore(t *testing.T) (*repositories.Store, *database.DB) {
	t.Helper()
	db, cleanup := NewTestDB(t)
	t.Cleanup(cleanup)
	return repositories.NewStore(db.Conn(), zerolog.Nop()), db
}
