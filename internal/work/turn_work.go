package work

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Work type IDs.
const (
	TypeNotifyTurn    = "notify:turn"
	TypeArchiveTurn   = "archive:turn"
	TypeWALCheckpoint = "maintenance:wal-checkpoint"
	TypeVacuum        = "maintenance:vacuum"
)

// TurnNotifier delivers the notifications of a processed turn.
type TurnNotifier interface {
	NotifyTurn(ctx context.Context, turnID int64) error
}

// TurnArchiver stores a processed turn off-site.
type TurnArchiver interface {
	ArchiveTurn(ctx context.Context, turnID int64) error
}

// Maintainer keeps the game database compact.
type Maintainer interface {
	Checkpoint(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// TurnWorkDeps holds the services behind the turn work types. Nil services
// leave their work types unregistered.
type TurnWorkDeps struct {
	Notifier    TurnNotifier
	Archiver    TurnArchiver
	Maintenance Maintainer

	CheckpointInterval time.Duration
	VacuumInterval     time.Duration
}

// RegisterTurnWork registers the work types of the game server.
func RegisterTurnWork(registry *Registry, deps TurnWorkDeps) {
	if deps.Notifier != nil {
		registry.Register(&WorkType{
			ID:       TypeNotifyTurn,
			Priority: PriorityHigh,
			Timing:   AnyTime,
			Execute: func(ctx context.Context, subject string) error {
				turnID, err := parseTurnID(subject)
				if err != nil {
					return err
				}
				return deps.Notifier.NotifyTurn(ctx, turnID)
			},
		})
	}

	if deps.Archiver != nil {
		var dependsOn []string
		if deps.Notifier != nil {
			dependsOn = []string{TypeNotifyTurn}
		}
		registry.Register(&WorkType{
			ID:        TypeArchiveTurn,
			DependsOn: dependsOn,
			Priority:  PriorityMedium,
			Timing:    WhenIdle,
			Execute: func(ctx context.Context, subject string) error {
				turnID, err := parseTurnID(subject)
				if err != nil {
					return err
				}
				return deps.Archiver.ArchiveTurn(ctx, turnID)
			},
		})
	}

	if deps.Maintenance != nil {
		checkpoint := deps.CheckpointInterval
		if checkpoint <= 0 {
			checkpoint = time.Hour
		}
		vacuum := deps.VacuumInterval
		if vacuum <= 0 {
			vacuum = 24 * time.Hour
		}
		registry.Register(&WorkType{
			ID:           TypeWALCheckpoint,
			Priority:     PriorityLow,
			Timing:       WhenIdle,
			Interval:     checkpoint,
			FindSubjects: global,
			Execute: func(ctx context.Context, _ string) error {
				return deps.Maintenance.Checkpoint(ctx)
			},
		})
		registry.Register(&WorkType{
			ID:           TypeVacuum,
			DependsOn:    []string{TypeWALCheckpoint},
			Priority:     PriorityLow,
			Timing:       WhenIdle,
			Interval:     vacuum,
			FindSubjects: global,
			Execute: func(ctx context.Context, _ string) error {
				return deps.Maintenance.Vacuum(ctx)
			},
		})
	}
}

// TurnSubject formats a turn ID as a work subject.
func TurnSubject(turnID int64) string {
	return strconv.FormatInt(turnID, 10)
}

func parseTurnID(subject string) (int64, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid turn subject %q", subject)
	}
	return id, nil
}

func global() []string {
	return []string{""}
}
