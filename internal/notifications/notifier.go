// Package notifications hands processed turns to player-facing messaging.
// Dispatch only enqueues background work; delivery happens in the work
// processor and never feeds back into turn processing.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/insuresim/underwriter/internal/work"
	"github.com/rs/zerolog"
)

// Channels reported in notification.queued events.
const (
	ChannelTurn       = "turn"
	ChannelBankruptcy = "bankruptcy"
)

// Enqueuer accepts background work.
type Enqueuer interface {
	Enqueue(typeID, subject string) error
}

// Emitter publishes notification events.
type Emitter interface {
	Emit(ctx context.Context, source string, data events.EventData, opts ...events.EmitOption) *events.Event
}

// Sender delivers a message to one destination.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Message is a single notification.
type Message struct {
	Kind       string  `json:"kind"`
	SemesterID int64   `json:"semester_id"`
	TurnID     int64   `json:"turn_id"`
	TurnNumber int     `json:"turn_number"`
	CompanyID  int64   `json:"company_id"`
	Company    string  `json:"company"`
	NetIncome  string  `json:"net_income"`
	Capital    string  `json:"ending_capital"`
	Solvency   float64 `json:"solvency_ratio,omitempty"`
	Bankrupt   bool    `json:"bankrupt"`
}

// Service implements the orchestrator's notifier and the notify:turn work.
type Service struct {
	store   *repositories.Store
	queue   Enqueuer
	emitter Emitter
	senders []Sender
	log     zerolog.Logger
}

var _ work.TurnNotifier = (*Service)(nil)

// NewService creates the notification service. emitter may be nil.
func NewService(store *repositories.Store, queue Enqueuer, emitter Emitter, senders []Sender, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		queue:   queue,
		emitter: emitter,
		senders: senders,
		log:     log.With().Str("service", "notifications").Logger(),
	}
}

// DispatchTurn queues the turn summary. It does not block on delivery.
func (s *Service) DispatchTurn(ctx context.Context, turn *domain.Turn) {
	s.enqueue(ctx, turn, ChannelTurn)
}

// DispatchBankruptcy queues the notifications of the turn in which a company
// failed. The per-company message is built from the stored result.
func (s *Service) DispatchBankruptcy(ctx context.Context, company *domain.Company, turn *domain.Turn) {
	s.log.Warn().
		Int64("company_id", company.ID).
		Str("company", company.Name).
		Int64("turn_id", turn.ID).
		Msg("Company bankrupt, notification queued")
	s.enqueue(ctx, turn, ChannelBankruptcy)
}

func (s *Service) enqueue(ctx context.Context, turn *domain.Turn, channel string) {
	if err := s.queue.Enqueue(work.TypeNotifyTurn, work.TurnSubject(turn.ID)); err != nil {
		s.log.Error().Err(err).Int64("turn_id", turn.ID).Msg("Failed to queue turn notification")
		return
	}

	if s.emitter != nil {
		s.emitter.Emit(ctx, "notifications", &events.NotificationQueuedData{
			TurnScope: events.TurnScope{SemesterID: turn.SemesterID, TurnID: turn.ID, TurnNumber: turn.Number},
			Channel:   channel,
		}, events.WithoutWaiting())
	}
}

// NotifyTurn builds the messages of a completed turn and sends them to every
// sender. A failing sender does not stop the others; the joined error makes
// the work processor retry the whole item.
func (s *Service) NotifyTurn(ctx context.Context, turnID int64) error {
	msgs, err := s.Messages(ctx, turnID)
	if err != nil {
		return err
	}

	var errs []error
	for _, sender := range s.senders {
		for _, msg := range msgs {
			if err := sender.Send(ctx, msg); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sender.Name(), err))
				break
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.log.Info().Int64("turn_id", turnID).Int("messages", len(msgs)).Int("senders", len(s.senders)).Msg("Turn notifications sent")
	return nil
}

// Messages returns one message per company result, ordered by company ID.
// Bankrupt companies get a bankruptcy message.
func (s *Service) Messages(ctx context.Context, turnID int64) ([]Message, error) {
	turn, err := s.store.Turns.GetByID(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if turn.Status != domain.TurnCompleted {
		return nil, fmt.Errorf("turn %d is %s, nothing to notify", turnID, turn.Status)
	}
	results, err := s.store.Results.ListByTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	companies, err := s.store.Companies.ListBySemester(ctx, turn.SemesterID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(companies))
	for _, c := range companies {
		names[c.ID] = c.Name
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CompanyID < results[j].CompanyID })
	msgs := make([]Message, 0, len(results))
	for _, r := range results {
		kind := ChannelTurn
		if r.Bankrupt {
			kind = ChannelBankruptcy
		}
		msg := Message{
			Kind:       kind,
			SemesterID: turn.SemesterID,
			TurnID:     turn.ID,
			TurnNumber: turn.Number,
			CompanyID:  r.CompanyID,
			Company:    names[r.CompanyID],
			NetIncome:  r.NetIncome.StringFixed(2),
			Capital:    r.EndingCapital.StringFixed(2),
			Bankrupt:   r.Bankrupt,
		}
		if r.SolvencyRatio != nil {
			msg.Solvency = *r.SolvencyRatio
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
