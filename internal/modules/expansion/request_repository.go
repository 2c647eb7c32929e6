package expansion

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const requestSchema = `
CREATE TABLE IF NOT EXISTS expansion_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL,
	state TEXT NOT NULL,
	line TEXT NOT NULL,
	requested_turn_id INTEGER NOT NULL,
	approve_at_turn INTEGER NOT NULL,
	cost TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL,
	resolved_at INTEGER,
	UNIQUE (company_id, state, line)
);
CREATE INDEX IF NOT EXISTS idx_expansion_requests_pending ON expansion_requests(status, approve_at_turn);
`

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Request is a state authorization awaiting or past approval.
type Request struct {
	ID              int64                 `json:"id"`
	CompanyID       int64                 `json:"company_id"`
	State           string                `json:"state"`
	Line            domain.LineOfBusiness `json:"line"`
	RequestedTurnID int64                 `json:"requested_turn_id"`
	ApproveAtTurn   int                   `json:"approve_at_turn"` // turn number
	Cost            decimal.Decimal       `json:"cost"`
	Status          string                `json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	ResolvedAt      *time.Time            `json:"resolved_at,omitempty"`
}

// Segment returns the requested segment.
func (r Request) Segment() domain.Segment {
	return domain.Segment{State: r.State, Line: r.Line}
}

// RequestRepository stores authorization requests in the plugin's own table.
type RequestRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRequestRepository creates the repository.
func NewRequestRepository(db *sql.DB, log zerolog.Logger) *RequestRepository {
	return &RequestRepository{
		db:  db,
		log: log.With().Str("repo", "expansion_request").Logger(),
	}
}

// EnsureSchema creates the request table if needed.
func (r *RequestRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, requestSchema); err != nil {
		return fmt.Errorf("failed to create expansion_requests: %w", err)
	}
	return nil
}

// InsertAll stores new requests. A segment a company already requested is
// left untouched. It returns the number of rows written.
func (r *RequestRepository) InsertAll(ctx context.Context, requests []Request) (int, error) {
	written := 0
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		for _, req := range requests {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO expansion_requests (company_id, state, line, requested_turn_id, approve_at_turn, cost, status, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (company_id, state, line) DO NOTHING`,
				req.CompanyID, req.State, string(req.Line), req.RequestedTurnID, req.ApproveAtTurn,
				req.Cost.String(), StatusPending, req.CreatedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to insert request %s for company %d: %w", req.Segment(), req.CompanyID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				written++
			}
		}
		return nil
	})
	return written, err
}

// Due returns pending requests whose approval turn has been reached.
func (r *RequestRepository) Due(ctx context.Context, turnNumber int) ([]Request, error) {
	return r.list(ctx, `WHERE status = ? AND approve_at_turn <= ? ORDER BY company_id, state, line`, StatusPending, turnNumber)
}

// ListByCompany returns every request of a company.
func (r *RequestRepository) ListByCompany(ctx context.Context, companyID int64) ([]Request, error) {
	return r.list(ctx, `WHERE company_id = ? ORDER BY state, line`, companyID)
}

// IsRequested reports whether a company already asked for a segment.
func (r *RequestRepository) IsRequested(ctx context.Context, companyID int64, seg domain.Segment) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expansion_requests
		WHERE company_id = ? AND state = ? AND line = ?`, companyID, seg.State, string(seg.Line)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up request: %w", err)
	}
	return n > 0, nil
}

// MarkApproved resolves a request.
func (r *RequestRepository) MarkApproved(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE expansion_requests SET status = ?, resolved_at = ?
		WHERE id = ? AND status = ?`, StatusApproved, at.Unix(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to approve request %d: %w", id, err)
	}
	return nil
}

func (r *RequestRepository) list(ctx context.Context, where string, args ...any) ([]Request, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, company_id, state, line, requested_turn_id, approve_at_turn,
		cost, status, created_at, resolved_at FROM expansion_requests `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var req Request
		var line, cost string
		var created int64
		var resolved sql.NullInt64
		if err := rows.Scan(&req.ID, &req.CompanyID, &req.State, &line, &req.RequestedTurnID, &req.ApproveAtTurn,
			&cost, &req.Status, &created, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		req.Line = domain.LineOfBusiness(line)
		req.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("invalid cost %q: %w", cost, err)
		}
		req.CreatedAt = time.Unix(created, 0).UTC()
		if resolved.Valid {
			t := time.Unix(resolved.Int64, 0).UTC()
			req.ResolvedAt = &t
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return out, nil
}
