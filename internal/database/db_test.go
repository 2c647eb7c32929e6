package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "nested", "game.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_Defaults(t *testing.T) {
	db := newTestDatabase(t)
	assert.Equal(t, "game", db.Name())
	assert.Equal(t, ProfileStandard, db.Profile())
	assert.True(t, filepath.IsAbs(db.Path()))

	var mode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.Conn().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestDSN_Profiles(t *testing.T) {
	ledger := dsn("/tmp/g.db", ProfileLedger)
	assert.Contains(t, ledger, "_pragma=synchronous(FULL)")
	assert.NotContains(t, ledger, "temp_store")

	std := dsn("/tmp/g.db", ProfileStandard)
	assert.Contains(t, std, "/tmp/g.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, std, "_pragma=synchronous(NORMAL)")
	assert.Contains(t, std, "&_txlock=immediate")
}

func TestWithTransactionContext_ConcurrentWriters(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.Conn().Exec(`CREATE TABLE counters (id INTEGER PRIMARY KEY, n INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`INSERT INTO counters (id, n) VALUES (1, 0)`)
	require.NoError(t, err)

	// Each writer reads before it writes; deferred transactions would fail
	// the lock upgrade instead of queueing.
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- WithTransactionContext(context.Background(), db.Conn(), func(tx *sql.Tx) error {
				var n int
				if err := tx.QueryRow(`SELECT n FROM counters WHERE id = 1`).Scan(&n); err != nil {
					return err
				}
				time.Sleep(5 * time.Millisecond)
				_, err := tx.Exec(`UPDATE counters SET n = ? WHERE id = 1`, n+1)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT n FROM counters WHERE id = 1`).Scan(&n))
	assert.Equal(t, writers, n)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	var n int
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN
		('semesters', 'turns', 'companies', 'decisions', 'turn_results', 'market_conditions',
		 'investment_portfolios', 'liquidation_events', 'game_events', 'company_segments', 'turn_stage_checkpoints')`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS turn_results")
}

func TestWithTransactionContext(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	_, err := db.Conn().Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n))
		return n
	}

	t.Run("rolls back on error", func(t *testing.T) {
		err := WithTransactionContext(ctx, db.Conn(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
				return err
			}
			return errors.New("abort")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "abort")
		assert.Equal(t, 0, count())
	})

	t.Run("recovers panic", func(t *testing.T) {
		err := WithTransactionContext(ctx, db.Conn(), func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO kv (k, v) VALUES ('b', '2')`)
			panic("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic in transaction")
		assert.Equal(t, 0, count())
	})

	t.Run("commits", func(t *testing.T) {
		require.NoError(t, WithTransactionContext(ctx, db.Conn(), func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('c', '3')`)
			return err
		}))
		assert.Equal(t, 1, count())
	})

	t.Run("nil connection", func(t *testing.T) {
		assert.Error(t, WithTransactionContext(ctx, nil, func(*sql.Tx) error { return nil }))
	})
}

func TestMaintenanceOperations(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	require.NoError(t, db.Migrate())

	state, err := db.WALCheckpoint(ctx, CheckpointPassive)
	require.NoError(t, err)
	assert.False(t, state.Busy)

	_, err = db.WALCheckpoint(ctx, "")
	assert.NoError(t, err)
	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.HealthCheck(ctx))
	assert.NoError(t, db.Vacuum(ctx))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
	assert.Greater(t, stats.SizeBytes, int64(0))
}
