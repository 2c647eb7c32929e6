package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
)

// TurnRepository handles turn and stage checkpoint database operations
type TurnRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewTurnRepository creates a new turn repository
func NewTurnRepository(db DBTX, log zerolog.Logger) *TurnRepository {
	return &TurnRepository{
		db:  db,
		log: log.With().Str("repo", "turn").Logger(),
	}
}

// Checkpoint records that a pipeline stage committed.
type Checkpoint struct {
	TurnID      int64     `json:"turn_id"`
	Stage       int       `json:"stage"`
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
}

const turnColumns = `id, semester_id, number, starts_at, ends_at, status, special_rules,
	processing_started_at, processing_completed_at, last_error, created_at`

// Create inserts a turn and sets its ID.
func (r *TurnRepository) Create(ctx context.Context, t *domain.Turn) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = domain.TurnUpcoming
	}
	rules, err := marshalJSON(t.SpecialRules)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO turns (semester_id, number, starts_at, ends_at, status, special_rules, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SemesterID, t.Number, toUnix(t.StartsAt), toUnix(t.EndsAt), string(t.Status), rules, t.LastError, toUnix(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert turn %d for semester %d: %w", t.Number, t.SemesterID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read turn id: %w", err)
	}
	t.ID = id
	return nil
}

// GetByID returns a turn or ErrNotFound.
func (r *TurnRepository) GetByID(ctx context.Context, id int64) (*domain.Turn, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	return r.scanOne(row, fmt.Sprintf("turn %d", id))
}

// GetPending returns the lowest-numbered upcoming or active turn of a semester.
func (r *TurnRepository) GetPending(ctx context.Context, semesterID int64) (*domain.Turn, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns
		WHERE semester_id = ? AND status IN ('upcoming', 'active')
		ORDER BY number ASC LIMIT 1`, semesterID)
	return r.scanOne(row, fmt.Sprintf("pending turn for semester %d", semesterID))
}

// GetLatest returns the highest-numbered turn of a semester.
func (r *TurnRepository) GetLatest(ctx context.Context, semesterID int64) (*domain.Turn, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns
		WHERE semester_id = ? ORDER BY number DESC LIMIT 1`, semesterID)
	return r.scanOne(row, fmt.Sprintf("latest turn for semester %d", semesterID))
}

// GetByNumber returns a semester's turn by sequence number.
func (r *TurnRepository) GetByNumber(ctx context.Context, semesterID int64, number int) (*domain.Turn, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns
		WHERE semester_id = ? AND number = ?`, semesterID, number)
	return r.scanOne(row, fmt.Sprintf("turn %d of semester %d", number, semesterID))
}

// ListBySemester returns the turns of a semester in sequence order.
func (r *TurnRepository) ListBySemester(ctx context.Context, semesterID int64) ([]domain.Turn, error) {
	return r.list(ctx, `SELECT `+turnColumns+` FROM turns WHERE semester_id = ? ORDER BY number`, semesterID)
}

// ListByStatus returns turns in the given status across semesters.
func (r *TurnRepository) ListByStatus(ctx context.Context, status domain.TurnStatus) ([]domain.Turn, error) {
	return r.list(ctx, `SELECT `+turnColumns+` FROM turns WHERE status = ? ORDER BY semester_id, number`, string(status))
}

func (r *TurnRepository) list(ctx context.Context, query string, args ...any) ([]domain.Turn, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Transition moves a turn to status `to` only if it is currently in one of `from`.
// It reports whether the row changed, which makes the transition atomic
// against concurrent processors.
func (r *TurnRepository) Transition(ctx context.Context, id int64, from []domain.TurnStatus, to domain.TurnStatus, lastError string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition of turn %d: no source states", id)
	}
	placeholders := make([]string, len(from))
	args := []any{string(to), lastError}

	var stamp string
	switch to {
	case domain.TurnProcessing:
		stamp = ", processing_started_at = ?, processing_completed_at = NULL"
		args = append(args, toUnix(at))
	case domain.TurnCompleted, domain.TurnFailed:
		stamp = ", processing_completed_at = ?"
		args = append(args, toUnix(at))
	}

	args = append(args, id)
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	query := `UPDATE turns SET status = ?, last_error = ?` + stamp +
		` WHERE id = ? AND status IN (` + strings.Join(placeholders, ", ") + `)`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to move turn %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// UpdateSpecialRules replaces the special rules of a pending turn.
func (r *TurnRepository) UpdateSpecialRules(ctx context.Context, id int64, rules domain.SpecialRules) error {
	raw, err := marshalJSON(rules)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE turns SET special_rules = ?
		WHERE id = ? AND status IN ('upcoming', 'active')`, raw, id)
	if err != nil {
		return fmt.Errorf("failed to update special rules of turn %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending turn %d: %w", id, ErrNotFound)
	}
	return nil
}

// SaveCheckpoint records a committed stage. Re-saving a stage updates its time.
func (r *TurnRepository) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO turn_stage_checkpoints (turn_id, stage, name, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (turn_id, stage) DO UPDATE SET name = excluded.name, completed_at = excluded.completed_at`,
		cp.TurnID, cp.Stage, cp.Name, toUnix(cp.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %d for turn %d: %w", cp.Stage, cp.TurnID, err)
	}
	return nil
}

// Checkpoints returns the committed stages of a turn in order.
func (r *TurnRepository) Checkpoints(ctx context.Context, turnID int64) ([]Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT turn_id, stage, name, completed_at
		FROM turn_stage_checkpoints WHERE turn_id = ? ORDER BY stage`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		var (
			cp Checkpoint
			at int64
		)
		if err := rows.Scan(&cp.TurnID, &cp.Stage, &cp.Name, &at); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.CompletedAt = fromUnix(at)
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return cps, nil
}

// ClearCheckpoints removes stage records before a rerun.
func (r *TurnRepository) ClearCheckpoints(ctx context.Context, turnID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM turn_stage_checkpoints WHERE turn_id = ?`, turnID); err != nil {
		return fmt.Errorf("failed to clear checkpoints for turn %d: %w", turnID, err)
	}
	return nil
}

func (r *TurnRepository) scanOne(row *sql.Row, what string) (*domain.Turn, error) {
	t, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return t, nil
}

func scanTurn(row rowScanner) (*domain.Turn, error) {
	var (
		t                         domain.Turn
		startsAt, endsAt, created int64
		status, rules             string
		started, completed        sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.SemesterID, &t.Number, &startsAt, &endsAt, &status, &rules,
		&started, &completed, &t.LastError, &created); err != nil {
		return nil, err
	}
	t.StartsAt = fromUnix(startsAt)
	t.EndsAt = fromUnix(endsAt)
	t.Status = domain.TurnStatus(status)
	t.ProcessingStartedAt = timePtr(started)
	t.ProcessingCompletedAt = timePtr(completed)
	t.CreatedAt = fromUnix(created)
	if err := unmarshalJSON(rules, &t.SpecialRules); err != nil {
		return nil, err
	}
	return &t, nil
}
