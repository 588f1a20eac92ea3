package cycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/feedbird/feedbird/internal/pkg/cache"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ErrAdvanceSkipped reports that an advance found the cycle already moved or
// not yet due. It is an expected race outcome when sweeps overlap, not an
// error; callers log it at debug level at most.
var ErrAdvanceSkipped = errors.New("cycle advance skipped")

const advanceLockTTL = 30 * time.Second

// Locker serializes per-account advances across processes.
type Locker interface {
	Acquire(key string, ttl time.Duration) (bool, error)
	Release(key string) error
}

// Resetter is the usage-accounting hook invoked on a cycle transition.
type Resetter interface {
	ResetCycle(userID uint, now time.Time) error
}

// Recomputer is the visibility hook invoked after a cycle transition.
type Recomputer interface {
	Recompute(userID uint, now time.Time) error
}

type cacheLocker struct{}

func (cacheLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	return cache.AcquireLock(key, ttl)
}

func (cacheLocker) Release(key string) error {
	return cache.ReleaseLock(key)
}

// Service drives per-account billing-cycle transitions.
type Service struct {
	repo       Repository
	locker     Locker
	usage      Resetter
	visibility Recomputer
}

// NewService creates a cycle service with explicit collaborators.
func NewService(repo Repository, locker Locker, usage Resetter, visibility Recomputer) *Service {
	if locker == nil {
		locker = cacheLocker{}
	}
	return &Service{repo: repo, locker: locker, usage: usage, visibility: visibility}
}

// NewServiceFromDB creates a cycle service from a GORM DB handle with the
// redis-backed locker.
func NewServiceFromDB(db *gorm.DB, usage Resetter, visibility Recomputer) *Service {
	return NewService(NewRepository(db), nil, usage, visibility)
}

// NextWindow computes the following cycle window. Anchored accounts roll
// from the previous end; un-anchored accounts start at now.
func NextWindow(prevEnd *time.Time, now time.Time) (time.Time, time.Time) {
	start := now
	if prevEnd != nil && !prevEnd.IsZero() {
		start = *prevEnd
	}
	return start, start.AddDate(0, 1, 0)
}

// IsDue reports whether an account needs a cycle transition. Anchored
// accounts are due once their cycle end has passed. Un-anchored accounts
// reset on calendar-month boundaries, keyed off the last counter reset.
func IsDue(cycleEnd, lastResetAt *time.Time, now time.Time) bool {
	if cycleEnd != nil && !cycleEnd.IsZero() {
		return !now.Before(*cycleEnd)
	}
	if lastResetAt == nil || lastResetAt.IsZero() {
		return true
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return lastResetAt.Before(monthStart)
}

// AdvanceCycle applies the cycle transition for one account at most once per
// due window. The per-account lock serializes concurrent sweeps in this
// process and across processes; the conditional cycle_end write inside the
// critical section catches anything the lock let through (e.g. an expired
// lock after a stall).
func (s *Service) AdvanceCycle(userID uint, now time.Time) error {
	lockKey := fmt.Sprintf("cycle:advance:%d", userID)
	acquired, err := s.locker.Acquire(lockKey, advanceLockTTL)
	if err != nil {
		return fmt.Errorf("acquire advance lock for user %d: %w", userID, err)
	}
	if !acquired {
		log.Debugf("[Cycle] advance for user %d skipped: lock held elsewhere", userID)
		return ErrAdvanceSkipped
	}
	defer s.locker.Release(lockKey)

	// Re-read inside the critical section; another sweep may have advanced
	// the cycle while we waited for the lock.
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return err
	}
	lastReset, err := s.repo.GetLastResetAt(userID)
	if err != nil {
		return err
	}
	if !IsDue(sub.CycleEnd, lastReset, now) {
		log.Debugf("[Cycle] advance for user %d skipped: not due", userID)
		return ErrAdvanceSkipped
	}

	newStart, newEnd := NextWindow(sub.CycleEnd, now)
	advanced, err := s.repo.AdvanceCycleIfCurrent(userID, sub.CycleEnd, newStart, newEnd)
	if err != nil {
		return err
	}
	if !advanced {
		log.Debugf("[Cycle] advance for user %d skipped: cycle_end moved concurrently", userID)
		return ErrAdvanceSkipped
	}

	if err := s.usage.ResetCycle(userID, now); err != nil {
		return fmt.Errorf("reset usage for user %d: %w", userID, err)
	}
	if err := s.visibility.Recompute(userID, now); err != nil {
		return fmt.Errorf("recompute visibility for user %d: %w", userID, err)
	}
	return nil
}

// ReanchorCycle pins a fresh cycle window from a provider-supplied anchor,
// resetting usage. Used by the event processor when a subscription event
// carries new period boundaries.
func (s *Service) ReanchorCycle(userID uint, start, end time.Time) error {
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return err
	}
	if sub.CycleStart != nil && sub.CycleStart.Equal(start) && sub.CycleEnd != nil && sub.CycleEnd.Equal(end) {
		// Anchor unchanged, nothing to do.
		return nil
	}
	advanced, err := s.repo.AdvanceCycleIfCurrent(userID, sub.CycleEnd, start, end)
	if err != nil {
		return err
	}
	if !advanced {
		log.Debugf("[Cycle] reanchor for user %d skipped: cycle_end moved concurrently", userID)
		return ErrAdvanceSkipped
	}
	if err := s.usage.ResetCycle(userID, start); err != nil {
		return err
	}
	return s.visibility.Recompute(userID, time.Now())
}
