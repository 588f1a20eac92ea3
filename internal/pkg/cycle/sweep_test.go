package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/feedbird/feedbird/app/models"
)

func TestSweepDueAccountsResetsOnlyDue(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 1, 0)

	// 100 users: 30 due (cycle end passed), 70 not due.
	for i := uint(1); i <= 100; i++ {
		repo.userIDs = append(repo.userIDs, i)
		end := future
		if i <= 30 {
			end = now.Add(-time.Hour)
		}
		e := end
		repo.subs[i] = &models.BillingSubscription{UserID: i, CycleEnd: &e}
	}

	svc, resetter, _ := newTestService(repo)
	result, err := svc.SweepDueAccounts(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if result.ResetCount != 30 {
		t.Fatalf("expected 30 resets, got %d", result.ResetCount)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", result.Failures)
	}
	for i := uint(1); i <= 30; i++ {
		if resetter.calls[i] != 1 {
			t.Fatalf("due user %d reset %d times, want 1", i, resetter.calls[i])
		}
	}
	for i := uint(31); i <= 100; i++ {
		if resetter.calls[i] != 0 {
			t.Fatalf("not-due user %d was reset", i)
		}
	}
}

func TestSweepDueAccountsIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for i := uint(1); i <= 10; i++ {
		repo.userIDs = append(repo.userIDs, i)
		end := now.Add(-time.Hour)
		repo.subs[i] = &models.BillingSubscription{UserID: i, CycleEnd: &end}
	}

	svc, resetter, _ := newTestService(repo)
	first, err := svc.SweepDueAccounts(context.Background(), now)
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	if first.ResetCount != 10 {
		t.Fatalf("expected 10 resets, got %d", first.ResetCount)
	}

	second, err := svc.SweepDueAccounts(context.Background(), now)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if second.ResetCount != 0 {
		t.Fatalf("second sweep of the same instant reset %d accounts", second.ResetCount)
	}
	for i := uint(1); i <= 10; i++ {
		if resetter.calls[i] != 1 {
			t.Fatalf("user %d reset %d times across overlapping sweeps, want 1", i, resetter.calls[i])
		}
	}
}

// A full reset whose conditional anchor write loses a race must skip the
// account instead of resetting its counter against a cycle it never moved.
func TestResetAllAccountsSkipsRacedAnchor(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for i := uint(1); i <= 2; i++ {
		repo.userIDs = append(repo.userIDs, i)
		end := now.AddDate(0, 1, 0)
		repo.subs[i] = &models.BillingSubscription{UserID: i, CycleEnd: &end}
	}

	// Move user 1's cycle between the reset's snapshot and its write, as a
	// concurrent webhook reanchor would.
	repo.snapshotHook = func(userID uint) {
		raced := now.AddDate(0, 2, 0)
		repo.mu.Lock()
		repo.subs[userID].CycleEnd = &raced
		repo.mu.Unlock()
	}

	svc, resetter, _ := newTestService(repo)
	result, err := svc.ResetAllAccounts(now)
	if err != nil {
		t.Fatalf("full reset failed: %v", err)
	}

	if result.ResetCount != 1 || result.Skipped != 1 {
		t.Fatalf("expected 1 reset and 1 skip, got %d/%d", result.ResetCount, result.Skipped)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("a lost anchor race is a skip, not a failure: %+v", result.Failures)
	}
	if resetter.calls[1] != 0 {
		t.Fatalf("counter reset ran for the raced account")
	}
	if resetter.calls[2] != 1 {
		t.Fatalf("unraced account reset %d times, want 1", resetter.calls[2])
	}
}

func TestPreviewDueAccounts(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	dueNow := now.Add(-time.Hour)
	dueSoon := now.AddDate(0, 0, 3)
	dueLater := now.AddDate(0, 1, 0)
	for i, end := range []time.Time{dueNow, dueSoon, dueLater} {
		id := uint(i + 1)
		repo.userIDs = append(repo.userIDs, id)
		e := end
		repo.subs[id] = &models.BillingSubscription{UserID: id, CycleEnd: &e}
	}

	svc, resetter, _ := newTestService(repo)
	result, err := svc.PreviewDueAccounts(now, 7)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(result.Accounts) != 2 {
		t.Fatalf("expected 2 accounts due within 7 days, got %v", result.Accounts)
	}
	if result.TotalUsers != 3 {
		t.Fatalf("expected total of 3 users, got %d", result.TotalUsers)
	}
	if len(resetter.calls) != 0 {
		t.Fatalf("preview must not reset anything")
	}
}
