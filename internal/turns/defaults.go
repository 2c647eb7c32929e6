package turns

import (
	"context"
	"errors"
	"fmt"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
)

// DefaultDecision builds the "no change" decision of a company that did not
// submit one. The previous turn's choices are carried forward when available,
// otherwise the company runs on baseline pricing. Expansion requests are never
// carried forward.
func DefaultDecision(companyID int64, turn *domain.Turn, previous *domain.Decision) *domain.Decision {
	d := &domain.Decision{
		CompanyID:   companyID,
		TurnID:      turn.ID,
		IsDefault:   true,
		SubmittedAt: turn.Deadline(),
		Valid:       true,
	}
	if previous != nil {
		d.Decisions = domain.DecisionBag{
			Pricing:     append([]domain.PricingDecision(nil), previous.Decisions.Pricing...),
			Investments: previous.Decisions.Investments,
		}
	}
	return d
}

type resolvedDecision struct {
	decision  *domain.Decision
	defaulted bool
	fromTurn  int64 // turn the default was carried forward from, 0 for baseline
}

// resolveDecision returns the company's decision for the turn, creating the
// default when none was submitted.
func resolveDecision(ctx context.Context, tx *repositories.Store, companyID int64, turn *domain.Turn, carryForward bool) (resolvedDecision, error) {
	d, err := tx.Decisions.Get(ctx, companyID, turn.ID)
	if err == nil {
		return resolvedDecision{decision: d}, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return resolvedDecision{}, err
	}

	var previous *domain.Decision
	if carryForward {
		previous, err = tx.Decisions.GetPrevious(ctx, companyID, turn.ID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return resolvedDecision{}, err
		}
	}

	def := DefaultDecision(companyID, turn, previous)
	inserted, err := tx.Decisions.InsertIfAbsent(ctx, def)
	if err != nil {
		return resolvedDecision{}, err
	}
	if !inserted {
		// Submitted between the read and the insert.
		d, err := tx.Decisions.Get(ctx, companyID, turn.ID)
		if err != nil {
			return resolvedDecision{}, fmt.Errorf("failed to reload decision: %w", err)
		}
		return resolvedDecision{decision: d}, nil
	}

	res := resolvedDecision{decision: def, defaulted: true}
	if previous != nil {
		res.fromTurn = previous.TurnID
	}
	return res, nil
}
