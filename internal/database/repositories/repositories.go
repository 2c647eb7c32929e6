// Package repositories provides the persistence layer for game entities.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DBTX is the subset of *sql.DB and *sql.Tx the repositories use.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories over one connection or transaction.
type Store struct {
	db  *sql.DB
	tx  *sql.Tx
	log zerolog.Logger

	Semesters  *SemesterRepository
	Turns      *TurnRepository
	Companies  *CompanyRepository
	Decisions  *DecisionRepository
	Results    *ResultRepository
	Markets    *MarketRepository
	Portfolios *PortfolioRepository
	GameEvents *GameEventRepository
}

// NewStore creates a store over db.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	s := &Store{db: db, log: log}
	s.bind(db)
	return s
}

func (s *Store) bind(q DBTX) {
	s.Semesters = NewSemesterRepository(q, s.log)
	s.Turns = NewTurnRepository(q, s.log)
	s.Companies = NewCompanyRepository(q, s.log)
	s.Decisions = NewDecisionRepository(q, s.log)
	s.Results = NewResultRepository(q, s.log)
	s.Markets = NewMarketRepository(q, s.log)
	s.Portfolios = NewPortfolioRepository(q, s.log)
	s.GameEvents = NewGameEventRepository(q, s.log)
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InTx runs fn with a store bound to a single transaction. Nested calls reuse
// the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		txStore := &Store{db: s.db, tx: tx, log: s.log}
		txStore.bind(tx)
		return fn(txStore)
	})
}

// InsertGameEvent implements events.GameEventWriter.
func (s *Store) InsertGameEvent(ctx context.Context, ev *domain.GameEvent) error {
	return s.GameEvents.Insert(ctx, ev)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
