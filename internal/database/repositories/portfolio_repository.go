package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
)

// PortfolioRepository handles investment portfolio and liquidation database operations
type PortfolioRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db DBTX, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

const portfolioColumns = `id, company_id, turn_id, total_value, actual, perceived, holdings,
	realized_return, cfo_skill, created_at`

// Save stores the portfolio snapshot of a (company, turn), replacing a
// snapshot left by an earlier failed run of the same turn.
func (r *PortfolioRepository) Save(ctx context.Context, p *domain.InvestmentPortfolio) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	actual, err := marshalJSON(p.Actual)
	if err != nil {
		return err
	}
	perceived, err := marshalJSON(p.Perceived)
	if err != nil {
		return err
	}
	holdings := p.Holdings
	if holdings == nil {
		holdings = []domain.Holding{}
	}
	rawHoldings, err := marshalJSON(holdings)
	if err != nil {
		return err
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO investment_portfolios (company_id, turn_id, total_value, actual, perceived, holdings,
			realized_return, cfo_skill, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, turn_id) DO UPDATE SET
			total_value = excluded.total_value,
			actual = excluded.actual,
			perceived = excluded.perceived,
			holdings = excluded.holdings,
			realized_return = excluded.realized_return,
			cfo_skill = excluded.cfo_skill
		RETURNING id`,
		p.CompanyID, p.TurnID, p.TotalValue, actual, perceived, rawHoldings, p.RealizedReturn, p.CFOSkill,
		toUnix(p.CreatedAt))
	if err := row.Scan(&p.ID); err != nil {
		return fmt.Errorf("failed to save portfolio for company %d turn %d: %w", p.CompanyID, p.TurnID, err)
	}
	return nil
}

// Get returns the snapshot for a (company, turn), or ErrNotFound.
func (r *PortfolioRepository) Get(ctx context.Context, companyID, turnID int64) (*domain.InvestmentPortfolio, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+portfolioColumns+` FROM investment_portfolios
		WHERE company_id = ? AND turn_id = ?`, companyID, turnID)
	return r.scanOne(row, companyID)
}

// LatestBefore returns the company's most recent snapshot from a turn before turnID.
func (r *PortfolioRepository) LatestBefore(ctx context.Context, companyID, turnID int64) (*domain.InvestmentPortfolio, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+portfolioColumns+` FROM investment_portfolios
		WHERE company_id = ? AND turn_id < ? ORDER BY turn_id DESC LIMIT 1`, companyID, turnID)
	return r.scanOne(row, companyID)
}

// Recent returns up to limit of the company's latest snapshots, newest first.
func (r *PortfolioRepository) Recent(ctx context.Context, companyID int64, limit int) ([]domain.InvestmentPortfolio, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+portfolioColumns+` FROM investment_portfolios
		WHERE company_id = ? ORDER BY turn_id DESC LIMIT ?`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios for company %d: %w", companyID, err)
	}
	defer rows.Close()

	var out []domain.InvestmentPortfolio
	for rows.Next() {
		p, err := r.scanOne(rows, companyID)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return out, nil
}

func (r *PortfolioRepository) scanOne(row rowScanner, companyID int64) (*domain.InvestmentPortfolio, error) {
	var (
		p                           domain.InvestmentPortfolio
		actual, perceived, holdings string
		created                     int64
	)
	err := row.Scan(&p.ID, &p.CompanyID, &p.TurnID, &p.TotalValue, &actual, &perceived, &holdings,
		&p.RealizedReturn, &p.CFOSkill, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio for company %d: %w", companyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio for company %d: %w", companyID, err)
	}
	p.CreatedAt = fromUnix(created)
	if err := unmarshalJSON(actual, &p.Actual); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(perceived, &p.Perceived); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(holdings, &p.Holdings); err != nil {
		return nil, err
	}
	if len(p.Holdings) == 0 {
		p.Holdings = nil
	}
	return &p, nil
}

// InsertLiquidation records a liquidation event unless the company already has
// one for the turn. It reports whether a row was written.
func (r *PortfolioRepository) InsertLiquidation(ctx context.Context, ev *domain.LiquidationEvent) (bool, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	sold := ev.AssetsSold
	if sold == nil {
		sold = []domain.AssetSale{}
	}
	rawSold, err := marshalJSON(sold)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO liquidation_events (id, company_id, turn_id, trigger_reason, required_amount, amount_raised,
			discount_cost, total_cost, assets_sold, cfo_skill, urgency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, turn_id) DO NOTHING`,
		ev.ID, ev.CompanyID, ev.TurnID, string(ev.Trigger), ev.RequiredAmount, ev.AmountRaised,
		ev.DiscountCost, ev.TotalCost, rawSold, ev.CFOSkill, ev.Urgency, toUnix(ev.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert liquidation for company %d turn %d: %w", ev.CompanyID, ev.TurnID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ListLiquidationsByTurn returns the liquidation events of a turn.
func (r *PortfolioRepository) ListLiquidationsByTurn(ctx context.Context, turnID int64) ([]domain.LiquidationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, company_id, turn_id, trigger_reason, required_amount,
		amount_raised, discount_cost, total_cost, assets_sold, cfo_skill, urgency, created_at
		FROM liquidation_events WHERE turn_id = ? ORDER BY company_id`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query liquidations: %w", err)
	}
	defer rows.Close()

	var events []domain.LiquidationEvent
	for rows.Next() {
		var (
			ev            domain.LiquidationEvent
			trigger, sold string
			created       int64
		)
		if err := rows.Scan(&ev.ID, &ev.CompanyID, &ev.TurnID, &trigger, &ev.RequiredAmount, &ev.AmountRaised,
			&ev.DiscountCost, &ev.TotalCost, &sold, &ev.CFOSkill, &ev.Urgency, &created); err != nil {
			return nil, fmt.Errorf("failed to scan liquidation: %w", err)
		}
		ev.Trigger = domain.LiquidationTrigger(trigger)
		ev.CreatedAt = fromUnix(created)
		if err := unmarshalJSON(sold, &ev.AssetsSold); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating liquidations: %w", err)
	}
	return events, nil
}
