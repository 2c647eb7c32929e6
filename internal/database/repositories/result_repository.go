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

// ResultRepository handles company turn result database operations.
// Results are append-only: one row per (company, turn).
type ResultRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewResultRepository creates a new result repository
func NewResultRepository(db DBTX, log zerolog.Logger) *ResultRepository {
	return &ResultRepository{
		db:  db,
		log: log.With().Str("repo", "turn_result").Logger(),
	}
}

const resultColumns = `id, company_id, turn_id, premiums_written, premiums_earned, claims_incurred,
	expenses, underwriting_result, investment_income, liquidation_cost, other_adjustments, net_income,
	starting_capital, ending_capital, loss_ratio, expense_ratio, combined_ratio, solvency_ratio,
	market_shares, bankrupt, created_at`

// Insert stores a result unless one already exists for the pair. It reports
// whether a row was written; a repeated insert leaves the original untouched.
func (r *ResultRepository) Insert(ctx context.Context, res *domain.TurnResult) (bool, error) {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	shares := res.MarketShares
	if shares == nil {
		shares = map[string]float64{}
	}
	rawShares, err := marshalJSON(shares)
	if err != nil {
		return false, err
	}

	out, err := r.db.ExecContext(ctx, `
		INSERT INTO turn_results (company_id, turn_id, premiums_written, premiums_earned, claims_incurred,
			expenses, underwriting_result, investment_income, liquidation_cost, other_adjustments, net_income,
			starting_capital, ending_capital, loss_ratio, expense_ratio, combined_ratio, solvency_ratio,
			market_shares, bankrupt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, turn_id) DO NOTHING`,
		res.CompanyID, res.TurnID, res.PremiumsWritten, res.PremiumsEarned, res.ClaimsIncurred,
		res.Expenses, res.UnderwritingResult, res.InvestmentIncome, res.LiquidationCost, res.OtherAdjustments,
		res.NetIncome, res.StartingCapital, res.EndingCapital, nullFloat(res.LossRatio), nullFloat(res.ExpenseRatio),
		nullFloat(res.CombinedRatio), nullFloat(res.SolvencyRatio), rawShares, boolToInt(res.Bankrupt),
		toUnix(res.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert result for company %d turn %d: %w", res.CompanyID, res.TurnID, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		r.log.Debug().Int64("company_id", res.CompanyID).Int64("turn_id", res.TurnID).Msg("Result already recorded")
		return false, nil
	}
	if id, err := out.LastInsertId(); err == nil {
		res.ID = id
	}
	return true, nil
}

// Get returns the result of a company for a turn, or ErrNotFound.
func (r *ResultRepository) Get(ctx context.Context, companyID, turnID int64) (*domain.TurnResult, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM turn_results
		WHERE company_id = ? AND turn_id = ?`, companyID, turnID)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for company %d turn %d: %w", companyID, turnID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

// ListByTurn returns the results of a turn ordered by company.
func (r *ResultRepository) ListByTurn(ctx context.Context, turnID int64) ([]domain.TurnResult, error) {
	return r.list(ctx, `SELECT `+resultColumns+` FROM turn_results WHERE turn_id = ? ORDER BY company_id`, turnID)
}

// ListByCompany returns a company's results in turn order.
func (r *ResultRepository) ListByCompany(ctx context.Context, companyID int64) ([]domain.TurnResult, error) {
	return r.list(ctx, `SELECT `+resultColumns+` FROM turn_results WHERE company_id = ? ORDER BY turn_id`, companyID)
}

// CountByTurn returns how many results a turn has.
func (r *ResultRepository) CountByTurn(ctx context.Context, turnID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turn_results WHERE turn_id = ?`, turnID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results of turn %d: %w", turnID, err)
	}
	return n, nil
}

func (r *ResultRepository) list(ctx context.Context, query string, args ...any) ([]domain.TurnResult, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []domain.TurnResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

func scanResult(row rowScanner) (*domain.TurnResult, error) {
	var (
		res                       domain.TurnResult
		lossR, expR, combR, solvR sql.NullFloat64
		shares                    string
		bankrupt                  int
		created                   int64
	)
	if err := row.Scan(&res.ID, &res.CompanyID, &res.TurnID, &res.PremiumsWritten, &res.PremiumsEarned,
		&res.ClaimsIncurred, &res.Expenses, &res.UnderwritingResult, &res.InvestmentIncome,
		&res.LiquidationCost, &res.OtherAdjustments, &res.NetIncome, &res.StartingCapital,
		&res.EndingCapital, &lossR, &expR, &combR, &solvR, &shares, &bankrupt, &created); err != nil {
		return nil, err
	}
	res.LossRatio = floatPtr(lossR)
	res.ExpenseRatio = floatPtr(expR)
	res.CombinedRatio = floatPtr(combR)
	res.SolvencyRatio = floatPtr(solvR)
	res.Bankrupt = bankrupt == 1
	res.CreatedAt = fromUnix(created)
	if err := unmarshalJSON(shares, &res.MarketShares); err != nil {
		return nil, err
	}
	return &res, nil
}
