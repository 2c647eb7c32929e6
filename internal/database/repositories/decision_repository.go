package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
)

// DecisionRepository handles company turn decision database operations
type DecisionRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db DBTX, log zerolog.Logger) *DecisionRepository {
	return &DecisionRepository{
		db:  db,
		log: log.With().Str("repo", "decision").Logger(),
	}
}

const decisionColumns = `d.id, d.company_id, d.turn_id, d.decisions, d.is_default, d.submitted_at, d.valid, d.validation_errors`

// Submit stores a player's decision, replacing any earlier submission for the turn.
func (r *DecisionRepository) Submit(ctx context.Context, d *domain.Decision) error {
	bag, errs, err := encodeDecision(d)
	if err != nil {
		return err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO decisions (company_id, turn_id, decisions, is_default, submitted_at, valid, validation_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, turn_id) DO UPDATE SET
			decisions = excluded.decisions,
			is_default = excluded.is_default,
			submitted_at = excluded.submitted_at,
			valid = excluded.valid,
			validation_errors = excluded.validation_errors
		RETURNING id`,
		d.CompanyID, d.TurnID, bag, boolToInt(d.IsDefault), toUnix(d.SubmittedAt), boolToInt(d.Valid), errs)
	if err := row.Scan(&d.ID); err != nil {
		return fmt.Errorf("failed to store decision for company %d turn %d: %w", d.CompanyID, d.TurnID, err)
	}
	return nil
}

// InsertIfAbsent stores d unless a decision already exists for the pair.
// It reports whether d was inserted.
func (r *DecisionRepository) InsertIfAbsent(ctx context.Context, d *domain.Decision) (bool, error) {
	bag, errs, err := encodeDecision(d)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO decisions (company_id, turn_id, decisions, is_default, submitted_at, valid, validation_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, turn_id) DO NOTHING`,
		d.CompanyID, d.TurnID, bag, boolToInt(d.IsDefault), toUnix(d.SubmittedAt), boolToInt(d.Valid), errs)
	if err != nil {
		return false, fmt.Errorf("failed to insert decision for company %d turn %d: %w", d.CompanyID, d.TurnID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		if id, err := res.LastInsertId(); err == nil {
			d.ID = id
		}
	}
	return n == 1, nil
}

// UpdateValidation records the validation outcome of a decision.
func (r *DecisionRepository) UpdateValidation(ctx context.Context, id int64, valid bool, errs []domain.ValidationError) error {
	if errs == nil {
		errs = []domain.ValidationError{}
	}
	raw, err := marshalJSON(errs)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE decisions SET valid = ?, validation_errors = ? WHERE id = ?`,
		boolToInt(valid), raw, id); err != nil {
		return fmt.Errorf("failed to update validation of decision %d: %w", id, err)
	}
	return nil
}

// Get returns the decision of a company for a turn, or ErrNotFound.
func (r *DecisionRepository) Get(ctx context.Context, companyID, turnID int64) (*domain.Decision, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions d
		WHERE d.company_id = ? AND d.turn_id = ?`, companyID, turnID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision for company %d turn %d: %w", companyID, turnID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// GetPrevious returns the company's most recent decision from an earlier turn
// of the same semester, or ErrNotFound.
func (r *DecisionRepository) GetPrevious(ctx context.Context, companyID, turnID int64) (*domain.Decision, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions d
		JOIN turns t ON t.id = d.turn_id
		JOIN turns cur ON cur.id = ?
		WHERE d.company_id = ? AND t.semester_id = cur.semester_id AND t.number < cur.number
		ORDER BY t.number DESC LIMIT 1`, turnID, companyID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("previous decision for company %d: %w", companyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous decision: %w", err)
	}
	return d, nil
}

// ListByTurn returns every decision recorded for a turn.
func (r *DecisionRepository) ListByTurn(ctx context.Context, turnID int64) ([]domain.Decision, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions d
		WHERE d.turn_id = ? ORDER BY d.company_id`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return decisions, nil
}

func encodeDecision(d *domain.Decision) (string, string, error) {
	bag, err := marshalJSON(d.Decisions)
	if err != nil {
		return "", "", err
	}
	errs := d.ValidationErrors
	if errs == nil {
		errs = []domain.ValidationError{}
	}
	rawErrs, err := marshalJSON(errs)
	if err != nil {
		return "", "", err
	}
	return bag, rawErrs, nil
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var (
		d                domain.Decision
		bag, errs        string
		isDefault, valid int
		submittedAt      int64
	)
	if err := row.Scan(&d.ID, &d.CompanyID, &d.TurnID, &bag, &isDefault, &submittedAt, &valid, &errs); err != nil {
		return nil, err
	}
	d.IsDefault = isDefault == 1
	d.Valid = valid == 1
	d.SubmittedAt = fromUnix(submittedAt)
	if err := unmarshalJSON(bag, &d.Decisions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(errs, &d.ValidationErrors); err != nil {
		return nil, err
	}
	if len(d.ValidationErrors) == 0 {
		d.ValidationErrors = nil
	}
	return &d, nil
}
