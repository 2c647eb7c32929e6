package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/events"
	testingpkg "github.com/insuresim/underwriter/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	items []string
	err   error
}

func (q *fakeQueue) Enqueue(typeID, subject string) error {
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, typeID+":"+subject)
	return nil
}

type recordingEmitter struct {
	data []events.EventData
}

func (e *recordingEmitter) Emit(_ context.Context, _ string, data events.EventData, _ ...events.EmitOption) *events.Event {
	e.data = append(e.data, data)
	return nil
}

type memSender struct {
	mu   sync.Mutex
	name string
	err  error
	msgs []Message
}

func (s *memSender) Name() string { return s.name }

func (s *memSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func seedCompletedTurn(t *testing.T, store *repositories.Store) *domain.Turn {
	t.Helper()
	ctx := context.Background()
	sem := testingpkg.SeedSemester(t, store, "")
	turn := testingpkg.SeedTurn(t, store, sem.ID, 1)
	alpha := testingpkg.SeedCompany(t, store, sem.ID, testingpkg.CompanySpec{Name: "Alpha", Capital: 10000000})
	beta := testingpkg.SeedCompany(t, store, sem.ID, testingpkg.CompanySpec{Name: "Beta", Capital: 5000000})

	ratio := 1.8
	for _, r := range []*domain.TurnResult{
		{CompanyID: beta.ID, TurnID: turn.ID, NetIncome: decimal.NewFromInt(-5200000), EndingCapital: decimal.NewFromInt(-200000), Bankrupt: true},
		{CompanyID: alpha.ID, TurnID: turn.ID, NetIncome: decimal.NewFromInt(125000), EndingCapital: decimal.NewFromInt(10125000), SolvencyRatio: &ratio},
	} {
		_, err := store.Results.Insert(ctx, r)
		require.NoError(t, err)
	}

	at := testingpkg.FixtureStart
	for _, step := range [][2]domain.TurnStatus{
		{domain.TurnUpcoming, domain.TurnProcessing},
		{domain.TurnProcessing, domain.TurnCompleted},
	} {
		ok, err := store.Turns.Transition(ctx, turn.ID, []domain.TurnStatus{step[0]}, step[1], "", at)
		require.NoError(t, err)
		require.True(t, ok)
	}
	turn, err := store.Turns.GetByID(ctx, turn.ID)
	require.NoError(t, err)
	return turn
}

func TestDispatch_EnqueuesWork(t *testing.T) {
	queue := &fakeQueue{}
	emitter := &recordingEmitter{}
	s := NewService(nil, queue, emitter, nil, zerolog.Nop())
	turn := &domain.Turn{ID: 12, SemesterID: 2, Number: 4}

	s.DispatchTurn(context.Background(), turn)
	s.DispatchBankruptcy(context.Background(), &domain.Company{ID: 3, Name: "Gamma"}, turn)

	assert.Equal(t, []string{"notify:turn:12", "notify:turn:12"}, queue.items)
	require.Len(t, emitter.data, 2)
	first := emitter.data[0].(*events.NotificationQueuedData)
	assert.Equal(t, ChannelTurn, first.Channel)
	assert.Equal(t, int64(12), first.TurnID)
	assert.Equal(t, 4, first.TurnNumber)
	assert.Equal(t, ChannelBankruptcy, emitter.data[1].(*events.NotificationQueuedData).Channel)
}

func TestDispatch_QueueFailureIsSwallowed(t *testing.T) {
	emitter := &recordingEmitter{}
	s := NewService(nil, &fakeQueue{err: errors.New("unknown work type")}, emitter, nil, zerolog.Nop())

	assert.NotPanics(t, func() { s.DispatchTurn(context.Background(), &domain.Turn{ID: 1}) })
	assert.Empty(t, emitter.data)
}

func TestNotifyTurn_SendsOrderedMessages(t *testing.T) {
	store, _ := testingpkg.NewTestStore(t)
	turn := seedCompletedTurn(t, store)
	sender := &memSender{name: "mem"}

	s := NewService(store, &fakeQueue{}, nil, []Sender{sender, NewLogSender(zerolog.Nop())}, zerolog.Nop())
	require.NoError(t, s.NotifyTurn(context.Background(), turn.ID))

	require.Len(t, sender.msgs, 2)
	alpha, beta := sender.msgs[0], sender.msgs[1]
	assert.Equal(t, "Alpha", alpha.Company)
	assert.Equal(t, ChannelTurn, alpha.Kind)
	assert.Equal(t, "125000.00", alpha.NetIncome)
	assert.Equal(t, 1.8, alpha.Solvency)
	assert.Equal(t, "Beta", beta.Company)
	assert.Equal(t, ChannelBankruptcy, beta.Kind)
	assert.True(t, beta.Bankrupt)
	assert.Equal(t, turn.Number, beta.TurnNumber)
}

func TestNotifyTurn_FailingSenderDoesNotStopOthers(t *testing.T) {
	store, _ := testingpkg.NewTestStore(t)
	turn := seedCompletedTurn(t, store)
	broken := &memSender{name: "broken", err: errors.New("connection refused")}
	ok := &memSender{name: "ok"}

	s := NewService(store, &fakeQueue{}, nil, []Sender{broken, ok}, zerolog.Nop())
	err := s.NotifyTurn(context.Background(), turn.ID)
	assert.ErrorContains(t, err, "broken: connection refused")
	assert.Len(t, ok.msgs, 2)
}

func TestNotifyTurn_RejectsPendingTurn(t *testing.T) {
	store, _ := testingpkg.NewTestStore(t)
	sem := testingpkg.SeedSemester(t, store, "")
	turn := testingpkg.SeedTurn(t, store, sem.ID, 1)

	s := NewService(store, &fakeQueue{}, nil, nil, zerolog.Nop())
	assert.ErrorContains(t, s.NotifyTurn(context.Background(), turn.ID), "nothing to notify")
}

func TestWebhookSender(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		if msg.Bankrupt {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Send(ctx, Message{Kind: ChannelTurn, CompanyID: 1}))
	assert.ErrorContains(t, s.Send(ctx, Message{Kind: ChannelBankruptcy, CompanyID: 2, Bankrupt: true}), "status 502")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, int64(1), received[0].CompanyID)
}
