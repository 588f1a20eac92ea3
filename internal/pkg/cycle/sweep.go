package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	defaultSweepWorkers   = 5
	defaultAccountTimeout = 30 * time.Second
)

// AccountError records a per-account sweep failure. Sweep failures are
// collected, never fatal to the batch.
type AccountError struct {
	UserID uint   `json:"user_id"`
	Err    string `json:"error"`
}

// SweepResult summarizes one due-sweep run.
type SweepResult struct {
	ResetCount int            `json:"reset_count"`
	Accounts   []uint         `json:"accounts"`
	Skipped    int            `json:"skipped"`
	Failures   []AccountError `json:"failures,omitempty"`
}

// PreviewResult lists accounts that would be due within a horizon.
type PreviewResult struct {
	Accounts   []uint `json:"accounts"`
	TotalUsers int64  `json:"total_users"`
}

// SweepDueAccounts advances every due account with bounded concurrency. Each
// account runs under a soft timeout so one stuck account cannot stall the
// batch; its advance keeps running in the background and the next sweep picks
// up whatever it left behind.
func (s *Service) SweepDueAccounts(ctx context.Context, now time.Time) (*SweepResult, error) {
	ids, err := s.repo.ListDueUserIDs(now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, defaultSweepWorkers)

	for _, id := range ids {
		select {
		case <-ctx.Done():
			mu.Lock()
			result.Failures = append(result.Failures, AccountError{UserID: id, Err: ctx.Err().Error()})
			mu.Unlock()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.advanceWithTimeout(userID, now, defaultAccountTimeout)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.ResetCount++
				result.Accounts = append(result.Accounts, userID)
			case errors.Is(err, ErrAdvanceSkipped):
				result.Skipped++
			default:
				log.Errorf("[Cycle] sweep failed for user %d: %v", userID, err)
				result.Failures = append(result.Failures, AccountError{UserID: userID, Err: err.Error()})
			}
		}(id)
	}

	wg.Wait()
	log.Infof("[Cycle] sweep done: %d reset, %d skipped, %d failed", result.ResetCount, result.Skipped, len(result.Failures))
	return result, nil
}

// advanceWithTimeout runs AdvanceCycle with a soft deadline. On timeout the
// advance goroutine is abandoned, not cancelled; the per-account lock and the
// conditional write keep a late completion harmless.
func (s *Service) advanceWithTimeout(userID uint, now time.Time, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- s.AdvanceCycle(userID, now)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("advance for user %d timed out after %s", userID, timeout)
	}
}

// PreviewDueAccounts lists accounts due within [now, now+horizonDays] without
// mutating anything. Operational read used before a real sweep.
func (s *Service) PreviewDueAccounts(now time.Time, horizonDays int) (*PreviewResult, error) {
	if horizonDays < 0 {
		horizonDays = 0
	}
	until := now.AddDate(0, 0, horizonDays)
	ids, err := s.repo.ListDueUserIDsWithin(now, until)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountUsers()
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Accounts: ids, TotalUsers: total}, nil
}

// ResetAllAccounts force-resets every account regardless of due-ness and
// re-anchors each cycle at now. This discards cycle alignment and exists only
// for disaster recovery and bootstrapping; routine resets go through
// SweepDueAccounts.
func (s *Service) ResetAllAccounts(now time.Time) (*SweepResult, error) {
	ids, err := s.repo.ListAllUserIDs()
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, id := range ids {
		sub, err := s.repo.GetOrCreateSubscription(id)
		if err != nil {
			result.Failures = append(result.Failures, AccountError{UserID: id, Err: err.Error()})
			continue
		}
		advanced, err := s.repo.AdvanceCycleIfCurrent(id, sub.CycleEnd, now, now.AddDate(0, 1, 0))
		if err != nil {
			result.Failures = append(result.Failures, AccountError{UserID: id, Err: err.Error()})
			continue
		}
		if !advanced {
			// Conditional anchor write lost a race with a concurrent advance;
			// skip the reset rather than resetting against a moved cycle.
			result.Skipped++
			continue
		}
		if err := s.usage.ResetCycle(id, now); err != nil {
			result.Failures = append(result.Failures, AccountError{UserID: id, Err: err.Error()})
			continue
		}
		if err := s.visibility.Recompute(id, now); err != nil {
			result.Failures = append(result.Failures, AccountError{UserID: id, Err: err.Error()})
			continue
		}
		result.ResetCount++
		result.Accounts = append(result.Accounts, id)
	}
	log.Warnf("[Cycle] full reset executed for %d accounts", result.ResetCount)
	return result, nil
}
