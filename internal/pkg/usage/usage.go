package usage

import (
	"errors"
	"time"

	"github.com/feedbird/feedbird/internal/pkg/plans"
	"gorm.io/gorm"
)

// ErrLimitExceeded signals that an increment moved the cycle counter past the
// plan quota. It is an expected business condition, not a failure: the caller
// still persists the record and marks it hidden (soft overflow).
var ErrLimitExceeded = errors.New("plan record limit exceeded")

// Current is the usage snapshot returned to quota-gated call sites.
type Current struct {
	RecordsUsed   int64   `json:"records_used"`
	RecordsLimit  int64   `json:"records_limit"`
	ProjectsUsed  int64   `json:"projects_used"`
	ProjectsLimit int64   `json:"projects_limit"`
	Percentage    float64 `json:"percentage"`
}

// Service implements per-user usage accounting against plan limits.
type Service struct {
	repo Repository
}

// NewService creates a usage service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a usage service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// CurrentUsage reads the user's consumption against the current plan limits.
func (s *Service) CurrentUsage(userID uint) (*Current, error) {
	limits, err := s.limitsFor(userID)
	if err != nil {
		return nil, err
	}

	counter, err := s.repo.GetOrCreateCounter(userID)
	if err != nil {
		return nil, err
	}
	projects, err := s.repo.CountActiveProjects(userID)
	if err != nil {
		return nil, err
	}

	pct := 0.0
	if limits.MaxRecordsPerCycle > 0 {
		pct = float64(counter.RecordsUsed) / float64(limits.MaxRecordsPerCycle) * 100
		if pct > 100 {
			pct = 100
		}
	}

	return &Current{
		RecordsUsed:   counter.RecordsUsed,
		RecordsLimit:  int64(limits.MaxRecordsPerCycle),
		ProjectsUsed:  projects,
		ProjectsLimit: int64(limits.MaxActiveProjects),
		Percentage:    pct,
	}, nil
}

// CanCreateProject reports whether the user may create another active
// project under the current plan, independent of the billing cycle.
func (s *Service) CanCreateProject(userID uint) (bool, plans.Limits, error) {
	limits, err := s.limitsFor(userID)
	if err != nil {
		return false, plans.Limits{}, err
	}
	projects, err := s.repo.CountActiveProjects(userID)
	if err != nil {
		return false, limits, err
	}
	return projects < int64(limits.MaxActiveProjects), limits, nil
}

// RecordCreated atomically bumps the cycle counter and returns the new value.
// When the counter passes the plan quota it returns ErrLimitExceeded along
// with the value; the record itself is still created by the caller.
func (s *Service) RecordCreated(userID uint) (int64, error) {
	limits, err := s.limitsFor(userID)
	if err != nil {
		return 0, err
	}
	used, err := s.repo.IncrementRecords(userID)
	if err != nil {
		return 0, err
	}
	if used > int64(limits.MaxRecordsPerCycle) {
		return used, ErrLimitExceeded
	}
	return used, nil
}

// ResetCycle zeroes the record counter. The cycle state machine guards that
// this happens exactly once per due window; the reset itself is idempotent.
func (s *Service) ResetCycle(userID uint, now time.Time) error {
	return s.repo.ResetRecords(userID, now)
}

func (s *Service) limitsFor(userID uint) (plans.Limits, error) {
	plan, err := s.repo.GetPlan(userID)
	if err != nil {
		return plans.Limits{}, err
	}
	return plans.LimitsFor(plan)
}
