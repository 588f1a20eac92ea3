package usage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feedbird/feedbird/app/models"
)

type fakeRepo struct {
	mu             sync.Mutex
	counters       map[uint]*models.UsageCounter
	projects       map[uint]int64
	plans          map[uint]string
	incrementCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		counters: map[uint]*models.UsageCounter{},
		projects: map[uint]int64{},
		plans:    map[uint]string{},
	}
}

func (f *fakeRepo) counter(userID uint) *models.UsageCounter {
	if c, ok := f.counters[userID]; ok {
		return c
	}
	c := &models.UsageCounter{UserID: userID}
	f.counters[userID] = c
	return c
}

func (f *fakeRepo) GetOrCreateCounter(userID uint) (*models.UsageCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter(userID), nil
}

// IncrementRecords mirrors the atomic SQL increment: one guarded
// read-and-bump per call, returning the new value.
func (f *fakeRepo) IncrementRecords(userID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrementCalls++
	c := f.counter(userID)
	c.RecordsUsed++
	return c.RecordsUsed, nil
}

func (f *fakeRepo) ResetRecords(userID uint, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.counter(userID)
	c.RecordsUsed = 0
	c.LastResetAt = &now
	return nil
}

func (f *fakeRepo) CountActiveProjects(userID uint) (int64, error) {
	return f.projects[userID], nil
}

func (f *fakeRepo) GetPlan(userID uint) (string, error) {
	plan, ok := f.plans[userID]
	if !ok {
		return "free", nil
	}
	return plan, nil
}

func TestRecordCreatedSoftOverflow(t *testing.T) {
	repo := newFakeRepo()
	repo.plans[1] = "free" // 100 records per cycle
	repo.counters[1] = &models.UsageCounter{UserID: 1, RecordsUsed: 99}
	svc := NewService(repo)

	// Record 100 of 100 is still within quota.
	used, err := svc.RecordCreated(1)
	if err != nil {
		t.Fatalf("record at the limit must not error: %v", err)
	}
	if used != 100 {
		t.Fatalf("expected counter 100, got %d", used)
	}

	// Record 101 overflows but the counter still advances.
	used, err = svc.RecordCreated(1)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if used != 101 {
		t.Fatalf("overflowing record must still be counted, got %d", used)
	}
}

// N simultaneous record creations must land exactly N increments, each as a
// single repository-level atomic bump, never a read-modify-write in the
// service.
func TestRecordCreatedConcurrentNoLostUpdates(t *testing.T) {
	repo := newFakeRepo()
	repo.plans[1] = "starter" // 1000 records per cycle
	svc := NewService(repo)

	const n = 200
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordCreated(1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RecordCreated failed under concurrency: %v", err)
	}

	if got := repo.counters[1].RecordsUsed; got != n {
		t.Fatalf("lost updates: counter %d after %d concurrent creations", got, n)
	}
	if repo.incrementCalls != n {
		t.Fatalf("expected one atomic increment per creation, got %d for %d calls", repo.incrementCalls, n)
	}
}

func TestResetCycleClearsCounter(t *testing.T) {
	repo := newFakeRepo()
	repo.counters[1] = &models.UsageCounter{UserID: 1, RecordsUsed: 250}
	svc := NewService(repo)

	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.ResetCycle(1, now); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if repo.counters[1].RecordsUsed != 0 {
		t.Fatalf("counter not cleared: %d", repo.counters[1].RecordsUsed)
	}
	if repo.counters[1].LastResetAt == nil || !repo.counters[1].LastResetAt.Equal(now) {
		t.Fatalf("last reset timestamp not recorded: %v", repo.counters[1].LastResetAt)
	}

	// Overflow state ends with the cycle.
	if _, err := svc.RecordCreated(1); err != nil {
		t.Fatalf("first record after reset must be within quota: %v", err)
	}
}

func TestCurrentUsagePercentageClamped(t *testing.T) {
	repo := newFakeRepo()
	repo.plans[1] = "free"
	repo.counters[1] = &models.UsageCounter{UserID: 1, RecordsUsed: 250}
	svc := NewService(repo)

	current, err := svc.CurrentUsage(1)
	if err != nil {
		t.Fatalf("CurrentUsage failed: %v", err)
	}
	if current.Percentage != 100 {
		t.Fatalf("over-quota percentage must clamp at 100, got %f", current.Percentage)
	}
	if current.RecordsUsed != 250 || current.RecordsLimit != 100 {
		t.Fatalf("unexpected usage snapshot: %+v", current)
	}
}

func TestCanCreateProject(t *testing.T) {
	repo := newFakeRepo()
	repo.plans[1] = "free" // 1 active project
	svc := NewService(repo)

	allowed, limits, err := svc.CanCreateProject(1)
	if err != nil {
		t.Fatalf("CanCreateProject failed: %v", err)
	}
	if !allowed || limits.MaxActiveProjects != 1 {
		t.Fatalf("user with no projects must be allowed one: allowed=%v limits=%+v", allowed, limits)
	}

	repo.projects[1] = 1
	allowed, _, err = svc.CanCreateProject(1)
	if err != nil {
		t.Fatalf("CanCreateProject failed: %v", err)
	}
	if allowed {
		t.Fatalf("user at the project limit must be blocked")
	}

	// Upgrading lifts the gate.
	repo.plans[1] = "starter"
	allowed, limits, err = svc.CanCreateProject(1)
	if err != nil {
		t.Fatalf("CanCreateProject failed: %v", err)
	}
	if !allowed || limits.MaxActiveProjects != 3 {
		t.Fatalf("starter user with one project must be allowed more: allowed=%v limits=%+v", allowed, limits)
	}
}

func TestUnknownPlanSurfaces(t *testing.T) {
	repo := newFakeRepo()
	repo.plans[1] = "enterprise"
	svc := NewService(repo)

	if _, err := svc.CurrentUsage(1); err == nil {
		t.Fatalf("unknown plan must not be silently defaulted")
	}
	if _, err := svc.RecordCreated(1); err == nil || errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("unknown plan must fail record accounting, got %v", err)
	}
}
