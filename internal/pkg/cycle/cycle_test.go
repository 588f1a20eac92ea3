package cycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feedbird/feedbird/app/models"
)

type fakeRepo struct {
	mu         sync.Mutex
	subs       map[uint]*models.BillingSubscription
	lastResets map[uint]*time.Time
	userIDs    []uint
	advances   int

	// One-shot hook fired after a subscription snapshot is taken, for
	// interleaving a concurrent mutation between read and write.
	snapshotHook func(userID uint)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:       map[uint]*models.BillingSubscription{},
		lastResets: map[uint]*time.Time{},
	}
}

func (f *fakeRepo) GetOrCreateSubscription(userID uint) (*models.BillingSubscription, error) {
	f.mu.Lock()
	sub, ok := f.subs[userID]
	if !ok {
		sub = &models.BillingSubscription{UserID: userID}
		f.subs[userID] = sub
	}
	copied := *sub
	hook := f.snapshotHook
	f.snapshotHook = nil
	f.mu.Unlock()

	if hook != nil {
		hook(userID)
	}
	return &copied, nil
}

func (f *fakeRepo) AdvanceCycleIfCurrent(userID uint, prevEnd *time.Time, newStart, newEnd time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[userID]
	if !ok {
		return false, nil
	}
	current := sub.CycleEnd
	switch {
	case prevEnd == nil && current != nil:
		return false, nil
	case prevEnd != nil && (current == nil || !current.Equal(*prevEnd)):
		return false, nil
	}
	start, end := newStart, newEnd
	sub.CycleStart, sub.CycleEnd = &start, &end
	f.advances++
	return true, nil
}

func (f *fakeRepo) GetLastResetAt(userID uint) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastResets[userID], nil
}

func (f *fakeRepo) ListDueUserIDs(now time.Time) ([]uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []uint
	for _, id := range f.userIDs {
		sub := f.subs[id]
		if sub == nil || sub.CycleEnd == nil || !now.Before(*sub.CycleEnd) {
			due = append(due, id)
		}
	}
	return due, nil
}

func (f *fakeRepo) ListDueUserIDsWithin(now, until time.Time) ([]uint, error) {
	return f.ListDueUserIDs(until)
}

func (f *fakeRepo) ListAllUserIDs() ([]uint, error) {
	return f.userIDs, nil
}

func (f *fakeRepo) CountUsers() (int64, error) {
	return int64(len(f.userIDs)), nil
}

// memLocker mirrors the redis SETNX lock semantics in memory.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}}
}

func (l *memLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Release(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type countingResetter struct {
	mu    sync.Mutex
	calls map[uint]int
}

func newCountingResetter() *countingResetter {
	return &countingResetter{calls: map[uint]int{}}
}

func (r *countingResetter) ResetCycle(userID uint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[userID]++
	return nil
}

type countingRecomputer struct {
	mu    sync.Mutex
	calls map[uint]int
}

func newCountingRecomputer() *countingRecomputer {
	return &countingRecomputer{calls: map[uint]int{}}
}

func (r *countingRecomputer) Recompute(userID uint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[userID]++
	return nil
}

func newTestService(repo *fakeRepo) (*Service, *countingResetter, *countingRecomputer) {
	resetter := newCountingResetter()
	recomputer := newCountingRecomputer()
	return NewService(repo, newMemLocker(), resetter, recomputer), resetter, recomputer
}

func TestNextWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	start, end := NextWindow(nil, now)
	if !start.Equal(now) || !end.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("un-anchored window = %v - %v", start, end)
	}

	prevEnd := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	start, end = NextWindow(&prevEnd, now)
	if !start.Equal(prevEnd) || !end.Equal(prevEnd.AddDate(0, 1, 0)) {
		t.Fatalf("anchored window must roll from the previous end, got %v - %v", start, end)
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	lastMonth := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	thisMonth := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		cycleEnd    *time.Time
		lastResetAt *time.Time
		want        bool
	}{
		{name: "anchored, end passed", cycleEnd: &past, want: true},
		{name: "anchored, end exactly now", cycleEnd: &now, want: true},
		{name: "anchored, end in future", cycleEnd: &future, want: false},
		{name: "un-anchored, never reset", want: true},
		{name: "un-anchored, reset last month", lastResetAt: &lastMonth, want: true},
		{name: "un-anchored, reset this month", lastResetAt: &thisMonth, want: false},
	}

	for _, tt := range tests {
		if got := IsDue(tt.cycleEnd, tt.lastResetAt, now); got != tt.want {
			t.Fatalf("%s: IsDue = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAdvanceCycleResetsOnce(t *testing.T) {
	repo := newFakeRepo()
	svc, resetter, recomputer := newTestService(repo)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	if err := svc.AdvanceCycle(1, now); err != nil {
		t.Fatalf("first advance failed: %v", err)
	}
	if resetter.calls[1] != 1 || recomputer.calls[1] != 1 {
		t.Fatalf("expected one reset and one recompute, got %d/%d", resetter.calls[1], recomputer.calls[1])
	}

	// The account just advanced, its new cycle end is in the future.
	err := svc.AdvanceCycle(1, now)
	if !errors.Is(err, ErrAdvanceSkipped) {
		t.Fatalf("second advance inside the window must be skipped, got %v", err)
	}
	if resetter.calls[1] != 1 {
		t.Fatalf("counter reset ran twice for the same window")
	}
}

func TestAdvanceCycleConcurrentExactlyOnce(t *testing.T) {
	repo := newFakeRepo()
	svc, resetter, _ := newTestService(repo)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.AdvanceCycle(1, now)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAdvanceSkipped):
		default:
			t.Fatalf("unexpected advance error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one concurrent advance must win, got %d", succeeded)
	}
	if resetter.calls[1] != 1 {
		t.Fatalf("counter reset ran %d times, want 1", resetter.calls[1])
	}
	if repo.advances != 1 {
		t.Fatalf("cycle window written %d times, want 1", repo.advances)
	}
}

func TestReanchorCycleIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc, resetter, _ := newTestService(repo)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	if err := svc.ReanchorCycle(1, start, end); err != nil {
		t.Fatalf("reanchor failed: %v", err)
	}
	if resetter.calls[1] != 1 {
		t.Fatalf("expected one reset after reanchor, got %d", resetter.calls[1])
	}

	// Same anchor again is a no-op, not a second reset.
	if err := svc.ReanchorCycle(1, start, end); err != nil {
		t.Fatalf("repeated reanchor failed: %v", err)
	}
	if resetter.calls[1] != 1 {
		t.Fatalf("identical anchor must not reset again, got %d resets", resetter.calls[1])
	}

	// A genuinely new window does reset.
	if err := svc.ReanchorCycle(1, end, end.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("new-window reanchor failed: %v", err)
	}
	if resetter.calls[1] != 2 {
		t.Fatalf("expected second reset for new window, got %d", resetter.calls[1])
	}
}
