// Package reliability keeps processed turns recoverable: turn archives
// uploaded to object storage and SQLite maintenance.
package reliability

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ArchiveFormat is bumped when TurnArchive changes incompatibly.
const ArchiveFormat = 1

const archiveContentType = "application/x-msgpack"

// Uploader stores an archive under a key.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Emitter publishes archive events.
type Emitter interface {
	Emit(ctx context.Context, source string, data events.EventData, opts ...events.EmitOption) *events.Event
}

// TurnArchive is the complete record of a processed turn.
type TurnArchive struct {
	Format       int                       `json:"format"`
	Turn         domain.Turn               `json:"turn"`
	Results      []domain.TurnResult       `json:"results"`
	Decisions    []domain.Decision         `json:"decisions"`
	Markets      []domain.MarketCondition  `json:"markets"`
	Liquidations []domain.LiquidationEvent `json:"liquidations"`
	Stages       []repositories.Checkpoint `json:"stages"`
	ArchivedAt   time.Time                 `json:"archived_at"`
}

// Encode serializes the archive as msgpack, reusing the json field names.
func (a *TurnArchive) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("failed to encode archive of turn %d: %w", a.Turn.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeArchive reads an archive produced by Encode.
func DecodeArchive(data []byte) (*TurnArchive, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var a TurnArchive
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}
	if a.Format != ArchiveFormat {
		return nil, fmt.Errorf("unsupported archive format %d", a.Format)
	}
	return &a, nil
}

// ArchiveKey is the object key of a turn archive.
func ArchiveKey(prefix string, turn *domain.Turn) string {
	key := fmt.Sprintf("semester-%d/turn-%03d-%d.msgpack", turn.SemesterID, turn.Number, turn.ID)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Archiver builds and uploads turn archives.
type Archiver struct {
	store    *repositories.Store
	uploader Uploader
	emitter  Emitter
	prefix   string
	now      func() time.Time
	log      zerolog.Logger
}

// NewArchiver creates an archiver. emitter may be nil.
func NewArchiver(store *repositories.Store, uploader Uploader, emitter Emitter, prefix string, log zerolog.Logger) *Archiver {
	return &Archiver{
		store:    store,
		uploader: uploader,
		emitter:  emitter,
		prefix:   prefix,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("service", "turn_archiver").Logger(),
	}
}

// Build collects the archive of a completed turn.
func (a *Archiver) Build(ctx context.Context, turnID int64) (*TurnArchive, error) {
	turn, err := a.store.Turns.GetByID(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if turn.Status != domain.TurnCompleted {
		return nil, fmt.Errorf("turn %d is %s, only completed turns are archived", turnID, turn.Status)
	}

	archive := &TurnArchive{Format: ArchiveFormat, Turn: *turn, ArchivedAt: a.now()}
	if archive.Results, err = a.store.Results.ListByTurn(ctx, turnID); err != nil {
		return nil, err
	}
	if archive.Decisions, err = a.store.Decisions.ListByTurn(ctx, turnID); err != nil {
		return nil, err
	}
	if archive.Markets, err = a.store.Markets.ListByTurn(ctx, turnID); err != nil {
		return nil, err
	}
	if archive.Liquidations, err = a.store.Portfolios.ListLiquidationsByTurn(ctx, turnID); err != nil {
		return nil, err
	}
	if archive.Stages, err = a.store.Turns.Checkpoints(ctx, turnID); err != nil {
		return nil, err
	}
	return archive, nil
}

// ArchiveTurn uploads the archive of a completed turn. Uploading the same
// turn twice overwrites the object.
func (a *Archiver) ArchiveTurn(ctx context.Context, turnID int64) error {
	archive, err := a.Build(ctx, turnID)
	if err != nil {
		return err
	}
	body, err := archive.Encode()
	if err != nil {
		return err
	}

	key := ArchiveKey(a.prefix, &archive.Turn)
	if err := a.uploader.Upload(ctx, key, body, archiveContentType); err != nil {
		return fmt.Errorf("failed to upload archive of turn %d: %w", turnID, err)
	}

	a.log.Info().
		Int64("turn_id", turnID).
		Str("key", key).
		Int("bytes", len(body)).
		Int("results", len(archive.Results)).
		Msg("Turn archived")

	if a.emitter != nil {
		a.emitter.Emit(ctx, "turn_archiver", &events.TurnArchivedData{
			TurnScope: events.TurnScope{
				SemesterID: archive.Turn.SemesterID,
				TurnID:     archive.Turn.ID,
				TurnNumber: archive.Turn.Number,
			},
			Key:   key,
			Bytes: len(body),
		})
	}
	return nil
}
