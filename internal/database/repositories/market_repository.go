package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
)

// MarketRepository handles market condition database operations
type MarketRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewMarketRepository creates a new market repository
func NewMarketRepository(db DBTX, log zerolog.Logger) *MarketRepository {
	return &MarketRepository{
		db:  db,
		log: log.With().Str("repo", "market_condition").Logger(),
	}
}

const marketColumns = `id, turn_id, state, line, base_demand, price_elasticity, competitive_intensity, created_at`

// GetOrCreate returns the condition stored for the segment and turn, inserting
// mc first when none exists. A rerun therefore reuses the original condition.
func (r *MarketRepository) GetOrCreate(ctx context.Context, mc *domain.MarketCondition) (*domain.MarketCondition, error) {
	if mc.CreatedAt.IsZero() {
		mc.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO market_conditions (turn_id, state, line, base_demand, price_elasticity, competitive_intensity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (turn_id, state, line) DO NOTHING`,
		mc.TurnID, mc.State, string(mc.Line), mc.BaseDemand, mc.PriceElasticity, mc.CompetitiveIntensity,
		toUnix(mc.CreatedAt)); err != nil {
		return nil, fmt.Errorf("failed to insert market condition %s: %w", mc.Segment(), err)
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM market_conditions
		WHERE turn_id = ? AND state = ? AND line = ?`, mc.TurnID, mc.State, string(mc.Line))
	stored, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read market condition %s: %w", mc.Segment(), err)
	}
	return stored, nil
}

// ListByTurn returns every condition of a turn.
func (r *MarketRepository) ListByTurn(ctx context.Context, turnID int64) ([]domain.MarketCondition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+marketColumns+` FROM market_conditions
		WHERE turn_id = ? ORDER BY state, line`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query market conditions: %w", err)
	}
	defer rows.Close()

	var conditions []domain.MarketCondition
	for rows.Next() {
		mc, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market condition: %w", err)
		}
		conditions = append(conditions, *mc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market conditions: %w", err)
	}
	return conditions, nil
}

func scanMarket(row rowScanner) (*domain.MarketCondition, error) {
	var (
		mc      domain.MarketCondition
		line    string
		created int64
	)
	if err := row.Scan(&mc.ID, &mc.TurnID, &mc.State, &line, &mc.BaseDemand, &mc.PriceElasticity,
		&mc.CompetitiveIntensity, &created); err != nil {
		return nil, err
	}
	mc.Line = domain.LineOfBusiness(line)
	mc.CreatedAt = fromUnix(created)
	return &mc, nil
}
