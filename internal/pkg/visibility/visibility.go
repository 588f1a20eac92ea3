package visibility

import (
	"time"

	"github.com/feedbird/feedbird/app/models"
	"github.com/feedbird/feedbird/internal/pkg/plans"
	"gorm.io/gorm"
)

// Repository provides DB operations used by visibility ranking.
type Repository interface {
	ListActiveProjects(userID uint) ([]models.Project, error)
	ListRecordsSince(projectID uint, since time.Time) ([]models.Feedback, error)
	SetVisibility(ids []uint, visible bool) error
	CountByUser(userID uint) (total int64, visible int64, err error)
	GetPlan(userID uint) (string, error)
	GetCycleStart(userID uint) (*time.Time, error)
}

// Stats summarizes quota-driven visibility for a user.
type Stats struct {
	TotalVisible int64 `json:"total_visible"`
	TotalHidden  int64 `json:"total_hidden"`
}

// Options controls paginated feedback reads.
type Options struct {
	Skip          int
	Take          int
	IncludeHidden bool
}

// Service decides which feedback records stay visible when usage exceeds the
// plan quota. Decisions are recomputed from scratch, never incrementally
// maintained, so the flag cannot drift from the record set.
type Service struct {
	repo Repository
}

// NewService creates a visibility service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a visibility service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Recompute re-ranks the user's records for the current cycle window. Per
// project, the newest MaxRecordsPerCycle records inside the window are
// visible and the rest hidden. Records from prior cycles are left untouched:
// visibility is a ratchet, a plan upgrade or cycle reset can only reveal
// previously hidden records, never retroactively hide old visible ones.
func (s *Service) Recompute(userID uint, now time.Time) error {
	plan, err := s.repo.GetPlan(userID)
	if err != nil {
		return err
	}
	limits, err := plans.LimitsFor(plan)
	if err != nil {
		return err
	}

	cycleStart, err := s.repo.GetCycleStart(userID)
	if err != nil {
		return err
	}
	windowStart := WindowStart(cycleStart, now)

	projects, err := s.repo.ListActiveProjects(userID)
	if err != nil {
		return err
	}

	for _, p := range projects {
		records, err := s.repo.ListRecordsSince(p.ID, windowStart)
		if err != nil {
			return err
		}

		show, hide := Rank(records, limits.MaxRecordsPerCycle)
		if err := s.repo.SetVisibility(show, true); err != nil {
			return err
		}
		if err := s.repo.SetVisibility(hide, false); err != nil {
			return err
		}
	}
	return nil
}

// Rank splits records (expected newest-first) into visible and hidden ID
// sets: the first limit records are visible, the remainder hidden. Only IDs
// whose flag actually changes are returned.
func Rank(records []models.Feedback, limit int) (show []uint, hide []uint) {
	for i, rec := range records {
		wantVisible := i < limit
		if wantVisible == rec.Visible {
			continue
		}
		if wantVisible {
			show = append(show, rec.ID)
		} else {
			hide = append(hide, rec.ID)
		}
	}
	return show, hide
}

// WindowStart resolves the start of the current quota window. Anchored
// accounts use the stored cycle start; never-billed accounts fall back to
// the start of the current calendar month.
func WindowStart(cycleStart *time.Time, now time.Time) time.Time {
	if cycleStart != nil && !cycleStart.IsZero() && !cycleStart.After(now) {
		return *cycleStart
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// Stats reports how many of the user's records are currently visible vs
// hidden by quota.
func (s *Service) Stats(userID uint) (*Stats, error) {
	total, visible, err := s.repo.CountByUser(userID)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalVisible: visible, TotalHidden: total - visible}, nil
}
