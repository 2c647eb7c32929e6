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

// CompanyRepository handles company and company segment database operations
type CompanyRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db DBTX, log zerolog.Logger) *CompanyRepository {
	return &CompanyRepository{
		db:  db,
		log: log.With().Str("repo", "company").Logger(),
	}
}

const companyColumns = `id, semester_id, name, is_ai, home_state, current_capital, total_assets,
	total_liabilities, solvency_ratio, cfo_skill, status, bankrupt_at, created_at, updated_at`

// Create inserts a company and sets its ID.
func (r *CompanyRepository) Create(ctx context.Context, c *domain.Company) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = domain.CompanyActive
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO companies (semester_id, name, is_ai, home_state, current_capital, total_assets,
			total_liabilities, solvency_ratio, cfo_skill, status, bankrupt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SemesterID, c.Name, boolToInt(c.IsAI), c.HomeState, c.CurrentCapital, c.TotalAssets,
		c.TotalLiabilities, nullFloat(c.SolvencyRatio), c.CFOSkill, string(c.Status), nullUnix(c.BankruptAt),
		toUnix(c.CreatedAt), toUnix(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert company %s: %w", c.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read company id: %w", err)
	}
	c.ID = id
	return nil
}

// GetByID returns a company or ErrNotFound.
func (r *CompanyRepository) GetByID(ctx context.Context, id int64) (*domain.Company, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("company %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company %d: %w", id, err)
	}
	return c, nil
}

// ListBySemester returns every company of a semester, bankrupt ones included.
func (r *CompanyRepository) ListBySemester(ctx context.Context, semesterID int64) ([]domain.Company, error) {
	return r.list(ctx, `SELECT `+companyColumns+` FROM companies WHERE semester_id = ? ORDER BY id`, semesterID)
}

// ListOperating returns the companies of a semester that are not bankrupt.
func (r *CompanyRepository) ListOperating(ctx context.Context, semesterID int64) ([]domain.Company, error) {
	return r.list(ctx, `SELECT `+companyColumns+` FROM companies
		WHERE semester_id = ? AND status != 'bankrupt' ORDER BY id`, semesterID)
}

func (r *CompanyRepository) list(ctx context.Context, query string, args ...any) ([]domain.Company, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query companies: %w", err)
	}
	defer rows.Close()

	var companies []domain.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}
	return companies, nil
}

// UpdateFinancials writes capital, balance sheet totals, solvency and status.
func (r *CompanyRepository) UpdateFinancials(ctx context.Context, c *domain.Company) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE companies SET current_capital = ?, total_assets = ?, total_liabilities = ?,
			solvency_ratio = ?, status = CASE WHEN status = 'bankrupt' THEN status ELSE ? END, updated_at = ?
		WHERE id = ?`,
		c.CurrentCapital, c.TotalAssets, c.TotalLiabilities, nullFloat(c.SolvencyRatio),
		string(c.Status), toUnix(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update company %d: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("company %d: %w", c.ID, ErrNotFound)
	}
	return nil
}

// MarkBankrupt flags a company bankrupt. It reports false when the company
// was already bankrupt, so callers notify exactly once.
func (r *CompanyRepository) MarkBankrupt(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE companies SET status = 'bankrupt', bankrupt_at = ?, updated_at = ?
		WHERE id = ? AND status != 'bankrupt'`, toUnix(at), toUnix(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark company %d bankrupt: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// UpdateCFOSkill sets the company's CFO skill, clamped to [0, 100].
func (r *CompanyRepository) UpdateCFOSkill(ctx context.Context, id int64, skill float64) error {
	if skill < 0 {
		skill = 0
	}
	if skill > 100 {
		skill = 100
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE companies SET cfo_skill = ?, updated_at = ? WHERE id = ?`,
		skill, toUnix(time.Now().UTC()), id); err != nil {
		return fmt.Errorf("failed to update cfo skill of company %d: %w", id, err)
	}
	return nil
}

// AddSegment authorizes a company in a segment. It reports false when the
// authorization already existed.
func (r *CompanyRepository) AddSegment(ctx context.Context, seg domain.CompanySegment) (bool, error) {
	if seg.Tier == "" {
		seg.Tier = domain.TierStandard
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO company_segments (company_id, state, line, tier, authorized_turn_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (company_id, state, line) DO NOTHING`,
		seg.CompanyID, seg.State, string(seg.Line), string(seg.Tier), seg.AuthorizedTurnID)
	if err != nil {
		return false, fmt.Errorf("failed to add segment %s for company %d: %w", seg.Segment(), seg.CompanyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// UpdateSegmentTier changes the product tier sold in a segment.
func (r *CompanyRepository) UpdateSegmentTier(ctx context.Context, companyID int64, seg domain.Segment, tier domain.ProductTier) error {
	res, err := r.db.ExecContext(ctx, `UPDATE company_segments SET tier = ?
		WHERE company_id = ? AND state = ? AND line = ?`, string(tier), companyID, seg.State, string(seg.Line))
	if err != nil {
		return fmt.Errorf("failed to update tier for company %d in %s: %w", companyID, seg, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("segment %s of company %d: %w", seg, companyID, ErrNotFound)
	}
	return nil
}

// ListSegments returns the authorizations of one company.
func (r *CompanyRepository) ListSegments(ctx context.Context, companyID int64) ([]domain.CompanySegment, error) {
	return r.listSegments(ctx, `SELECT company_id, state, line, tier, authorized_turn_id
		FROM company_segments WHERE company_id = ? ORDER BY state, line`, companyID)
}

// ListSegmentsBySemester returns the authorizations of every operating company in a semester.
func (r *CompanyRepository) ListSegmentsBySemester(ctx context.Context, semesterID int64) ([]domain.CompanySegment, error) {
	return r.listSegments(ctx, `SELECT s.company_id, s.state, s.line, s.tier, s.authorized_turn_id
		FROM company_segments s JOIN companies c ON c.id = s.company_id
		WHERE c.semester_id = ? AND c.status != 'bankrupt'
		ORDER BY s.state, s.line, s.company_id`, semesterID)
}

func (r *CompanyRepository) listSegments(ctx context.Context, query string, args ...any) ([]domain.CompanySegment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query company segments: %w", err)
	}
	defer rows.Close()

	var segs []domain.CompanySegment
	for rows.Next() {
		var (
			s          domain.CompanySegment
			line, tier string
		)
		if err := rows.Scan(&s.CompanyID, &s.State, &line, &tier, &s.AuthorizedTurnID); err != nil {
			return nil, fmt.Errorf("failed to scan company segment: %w", err)
		}
		s.Line = domain.LineOfBusiness(line)
		s.Tier = domain.ProductTier(tier)
		segs = append(segs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating company segments: %w", err)
	}
	return segs, nil
}

func scanCompany(row rowScanner) (*domain.Company, error) {
	var (
		c                domain.Company
		isAI             int
		status           string
		solvency         sql.NullFloat64
		bankruptAt       sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.SemesterID, &c.Name, &isAI, &c.HomeState, &c.CurrentCapital,
		&c.TotalAssets, &c.TotalLiabilities, &solvency, &c.CFOSkill, &status, &bankruptAt,
		&created, &updated); err != nil {
		return nil, err
	}
	c.IsAI = isAI == 1
	c.Status = domain.CompanyStatus(status)
	c.SolvencyRatio = floatPtr(solvency)
	c.BankruptAt = timePtr(bankruptAt)
	c.CreatedAt = fromUnix(created)
	c.UpdatedAt = fromUnix(updated)
	return &c, nil
}
