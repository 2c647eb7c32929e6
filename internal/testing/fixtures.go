package testing

import (
	"context"
	"testing"
	"time"

	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/shopspring/decimal"
)

// FixtureStart is the start of the first fixture turn.
var FixtureStart = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

// SeedSemester creates an active semester.
func SeedSemester(t *testing.T, s *repositories.Store, overrides string) *domain.Semester {
	t.Helper()
	sem := &domain.Semester{
		Name:            "Fixture Semester",
		StartsAt:        FixtureStart,
		EndsAt:          FixtureStart.AddDate(0, 4, 0),
		IsActive:        true,
		ConfigOverrides: overrides,
	}
	if err := s.Semesters.Create(context.Background(), sem); err != nil {
		t.Fatalf("Failed to seed semester: %v", err)
	}
	return sem
}

// SeedTurn creates an upcoming turn with a one-week window.
func SeedTurn(t *testing.T, s *repositories.Store, semesterID int64, number int) *domain.Turn {
	t.Helper()
	start := FixtureStart.AddDate(0, 0, 7*(number-1))
	turn := &domain.Turn{
		SemesterID: semesterID,
		Number:     number,
		StartsAt:   start,
		EndsAt:     start.AddDate(0, 0, 7),
		Status:     domain.TurnUpcoming,
	}
	if err := s.Turns.Create(context.Background(), turn); err != nil {
		t.Fatalf("Failed to seed turn: %v", err)
	}
	return turn
}

// CompanySpec describes a company to seed.
type CompanySpec struct {
	Name     string
	Capital  int64
	CFOSkill float64
	Segments []domain.CompanySegment // CompanyID is filled in
}

// SeedCompany creates a company and its segment authorizations.
func SeedCompany(t *testing.T, s *repositories.Store, semesterID int64, spec CompanySpec) *domain.Company {
	t.Helper()
	ctx := context.Background()
	c := &domain.Company{
		SemesterID:     semesterID,
		Name:           spec.Name,
		HomeState:      "CA",
		CurrentCapital: decimal.NewFromInt(spec.Capital),
		TotalAssets:    decimal.NewFromInt(spec.Capital),
		CFOSkill:       spec.CFOSkill,
	}
	if err := s.Companies.Create(ctx, c); err != nil {
		t.Fatalf("Failed to seed company %s: %v", spec.Name, err)
	}
	for _, seg := range spec.Segments {
		seg.CompanyID = c.ID
		if _, err := s.Companies.AddSegment(ctx, seg); err != nil {
			t.Fatalf("Failed to seed segment %s: %v", seg.Segment(), err)
		}
	}
	return c
}

// Segment is shorthand for a standard-tier authorization.
func Segment(state string, line domain.LineOfBusiness) domain.CompanySegment {
	return domain.CompanySegment{State: state, Line: line, Tier: domain.TierStandard}
}
