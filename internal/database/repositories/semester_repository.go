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

// SemesterRepository handles semester database operations
type SemesterRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewSemesterRepository creates a new semester repository
func NewSemesterRepository(db DBTX, log zerolog.Logger) *SemesterRepository {
	return &SemesterRepository{
		db:  db,
		log: log.With().Str("repo", "semester").Logger(),
	}
}

const semesterColumns = `id, name, starts_at, ends_at, is_active, config_overrides, created_at`

// Create inserts a semester and sets its ID.
func (r *SemesterRepository) Create(ctx context.Context, s *domain.Semester) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO semesters (name, starts_at, ends_at, is_active, config_overrides, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.Name, toUnix(s.StartsAt), toUnix(s.EndsAt), boolToInt(s.IsActive), s.ConfigOverrides, toUnix(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert semester: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read semester id: %w", err)
	}
	s.ID = id
	return nil
}

// GetByID returns a semester or ErrNotFound.
func (r *SemesterRepository) GetByID(ctx context.Context, id int64) (*domain.Semester, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+semesterColumns+` FROM semesters WHERE id = ?`, id)
	s, err := scanSemester(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("semester %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get semester %d: %w", id, err)
	}
	return s, nil
}

// ListActive returns every active semester ordered by id.
func (r *SemesterRepository) ListActive(ctx context.Context) ([]domain.Semester, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+semesterColumns+` FROM semesters WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query semesters: %w", err)
	}
	defer rows.Close()

	var semesters []domain.Semester
	for rows.Next() {
		s, err := scanSemester(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan semester: %w", err)
		}
		semesters = append(semesters, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating semesters: %w", err)
	}
	return semesters, nil
}

// UpdateOverrides replaces the semester's config overrides.
func (r *SemesterRepository) UpdateOverrides(ctx context.Context, id int64, overrides string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE semesters SET config_overrides = ? WHERE id = ?`, overrides, id)
	if err != nil {
		return fmt.Errorf("failed to update semester %d overrides: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("semester %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanSemester(row rowScanner) (*domain.Semester, error) {
	var (
		s                         domain.Semester
		startsAt, endsAt, created int64
		active                    int
	)
	if err := row.Scan(&s.ID, &s.Name, &startsAt, &endsAt, &active, &s.ConfigOverrides, &created); err != nil {
		return nil, err
	}
	s.StartsAt = fromUnix(startsAt)
	s.EndsAt = fromUnix(endsAt)
	s.IsActive = active == 1
	s.CreatedAt = fromUnix(created)
	return &s, nil
}
