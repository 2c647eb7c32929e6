package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/insuresim/underwriter/internal/domain"
	"github.com/rs/zerolog"
)

// GameEventRepository handles the append-only game event log
type GameEventRepository struct {
	db  DBTX
	log zerolog.Logger
}

// NewGameEventRepository creates a new game event repository
func NewGameEventRepository(db DBTX, log zerolog.Logger) *GameEventRepository {
	return &GameEventRepository{
		db:  db,
		log: log.With().Str("repo", "game_event").Logger(),
	}
}

// Insert appends an event. Events already recorded (same event id) are ignored.
func (r *GameEventRepository) Insert(ctx context.Context, ev *domain.GameEvent) error {
	var turnID sql.NullInt64
	if ev.TurnID != nil {
		turnID = sql.NullInt64{Int64: *ev.TurnID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO game_events (semester_id, turn_id, event_id, event_type, source, correlation_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.SemesterID, turnID, ev.EventID, ev.EventType, ev.Source, ev.CorrelationID, ev.Payload, toUnix(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert game event %s: %w", ev.EventID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListBySemester returns the most recent events of a semester, newest first.
// An empty eventType matches every type.
func (r *GameEventRepository) ListBySemester(ctx context.Context, semesterID int64, eventType string, limit int) ([]domain.GameEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, semester_id, turn_id, event_id, event_type, source, correlation_id, payload, created_at
		FROM game_events
		WHERE semester_id = ? AND (? = '' OR event_type = ?)
		ORDER BY id DESC LIMIT ?`, semesterID, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query game events: %w", err)
	}
	defer rows.Close()

	var out []domain.GameEvent
	for rows.Next() {
		var (
			ev      domain.GameEvent
			turnID  sql.NullInt64
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.SemesterID, &turnID, &ev.EventID, &ev.EventType, &ev.Source,
			&ev.CorrelationID, &ev.Payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan game event: %w", err)
		}
		if turnID.Valid {
			id := turnID.Int64
			ev.TurnID = &id
		}
		ev.CreatedAt = fromUnix(created)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating game events: %w", err)
	}
	return out, nil
}
