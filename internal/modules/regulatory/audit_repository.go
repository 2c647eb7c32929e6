package regulatory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS regulatory_audits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id INTEGER NOT NULL,
	company_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL,
	fine TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (turn_id, company_id, kind, detail)
);
CREATE INDEX IF NOT EXISTS idx_regulatory_audits_company ON regulatory_audits(company_id, turn_id);
`

// AuditRecord is one stored finding.
type AuditRecord struct {
	ID        int64           `json:"id"`
	TurnID    int64           `json:"turn_id"`
	CompanyID int64           `json:"company_id"`
	Kind      string          `json:"kind"`
	Detail    string          `json:"detail"`
	Fine      decimal.Decimal `json:"fine"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditRepository stores the plugin's audit trail. The table belongs to the
// plugin and is created on initialization.
type AuditRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAuditRepository creates the repository.
func NewAuditRepository(db *sql.DB, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: log.With().Str("repo", "regulatory_audit").Logger(),
	}
}

// EnsureSchema creates the audit table if needed.
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create regulatory_audits: %w", err)
	}
	return nil
}

// Record stores the findings of a turn. Findings already recorded for the turn
// are skipped, so a rerun turn does not duplicate its audit trail. It returns
// the number of rows written.
func (r *AuditRepository) Record(ctx context.Context, turnID int64, findings []Finding, at time.Time) (int, error) {
	written := 0
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO regulatory_audits (turn_id, company_id, kind, detail, fine, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (turn_id, company_id, kind, detail) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare audit insert: %w", err)
		}
		defer stmt.Close()

		for _, f := range findings {
			res, err := stmt.ExecContext(ctx, turnID, f.CompanyID, f.Kind, f.Detail, f.Fine.String(), at.Unix())
			if err != nil {
				return fmt.Errorf("failed to record finding for company %d: %w", f.CompanyID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Debug().Int64("turn_id", turnID).Int("written", written).Msg("Audit findings recorded")
	return written, nil
}

// ListByCompany returns a company's findings, newest turn first.
func (r *AuditRepository) ListByCompany(ctx context.Context, companyID int64) ([]AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, turn_id, company_id, kind, detail, fine, created_at
		FROM regulatory_audits WHERE company_id = ? ORDER BY turn_id DESC, id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var fine string
		var created int64
		if err := rows.Scan(&rec.ID, &rec.TurnID, &rec.CompanyID, &rec.Kind, &rec.Detail, &fine, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		rec.Fine, err = decimal.NewFromString(fine)
		if err != nil {
			return nil, fmt.Errorf("invalid fine %q: %w", fine, err)
		}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audits: %w", err)
	}
	return out, nil
}
