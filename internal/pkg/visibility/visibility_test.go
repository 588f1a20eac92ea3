package visibility

import (
	"testing"
	"time"

	"github.com/feedbird/feedbird/app/models"
)

type fakeRepo struct {
	projects   []models.Project
	records    map[uint][]models.Feedback
	plan       string
	cycleStart *time.Time

	visible map[uint]bool
}

func newFakeRepo(plan string) *fakeRepo {
	return &fakeRepo{
		records: map[uint][]models.Feedback{},
		plan:    plan,
		visible: map[uint]bool{},
	}
}

func (f *fakeRepo) ListActiveProjects(userID uint) ([]models.Project, error) {
	return f.projects, nil
}

func (f *fakeRepo) ListRecordsSince(projectID uint, since time.Time) ([]models.Feedback, error) {
	var out []models.Feedback
	for _, rec := range f.records[projectID] {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetVisibility(ids []uint, visible bool) error {
	for _, id := range ids {
		f.visible[id] = visible
		for pid, recs := range f.records {
			for i := range recs {
				if recs[i].ID == id {
					f.records[pid][i].Visible = visible
				}
			}
		}
	}
	return nil
}

func (f *fakeRepo) CountByUser(userID uint) (int64, int64, error) {
	var total, visible int64
	for _, recs := range f.records {
		for _, rec := range recs {
			total++
			if rec.Visible {
				visible++
			}
		}
	}
	return total, visible, nil
}

func (f *fakeRepo) GetPlan(userID uint) (string, error) {
	return f.plan, nil
}

func (f *fakeRepo) GetCycleStart(userID uint) (*time.Time, error) {
	return f.cycleStart, nil
}

// newestFirst builds n records for a project, newest first, with the given
// visibility flags.
func newestFirst(projectID uint, base time.Time, visible []bool) []models.Feedback {
	out := make([]models.Feedback, len(visible))
	for i := range visible {
		out[i] = models.Feedback{
			ID:        uint(i + 1),
			ProjectID: projectID,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
			Visible:   visible[i],
		}
	}
	return out
}

func TestRank(t *testing.T) {
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	records := newestFirst(1, base, []bool{true, true, false, true, false})

	show, hide := Rank(records, 3)
	if len(show) != 1 || show[0] != 3 {
		t.Fatalf("expected record 3 to become visible, got %v", show)
	}
	if len(hide) != 1 || hide[0] != 4 {
		t.Fatalf("expected record 4 to become hidden, got %v", hide)
	}
}

func TestRankNoChanges(t *testing.T) {
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	records := newestFirst(1, base, []bool{true, true, false, false})

	show, hide := Rank(records, 2)
	if len(show) != 0 || len(hide) != 0 {
		t.Fatalf("already-correct flags must yield no writes: show=%v hide=%v", show, hide)
	}
}

func TestRankLimitLargerThanSet(t *testing.T) {
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	records := newestFirst(1, base, []bool{false, false})

	show, hide := Rank(records, 100)
	if len(show) != 2 || len(hide) != 0 {
		t.Fatalf("all records fit, everything hidden must be revealed: show=%v hide=%v", show, hide)
	}
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	if got := WindowStart(nil, now); !got.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("un-anchored window must start at the calendar month, got %v", got)
	}

	anchor := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	if got := WindowStart(&anchor, now); !got.Equal(anchor) {
		t.Fatalf("anchored window must start at the cycle anchor, got %v", got)
	}

	// A future anchor (clock skew, pre-dated event) falls back to the month.
	future := now.Add(48 * time.Hour)
	if got := WindowStart(&future, now); !got.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("future anchor must fall back to the calendar month, got %v", got)
	}
}

func TestRecomputeRevealsAfterUpgrade(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo("free")
	repo.projects = []models.Project{{ID: 1, Status: models.ProjectStatusActive}}

	// 105 records this cycle: under the free limit of 100 the oldest 5 are
	// hidden.
	flags := make([]bool, 105)
	for i := range flags {
		flags[i] = i < 100
	}
	repo.records[1] = newestFirst(1, now, flags)

	svc := NewService(repo)
	if err := svc.Recompute(1, now); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	for i, rec := range repo.records[1] {
		if want := i < 100; rec.Visible != want {
			t.Fatalf("record %d visible=%v, want %v", rec.ID, rec.Visible, want)
		}
	}

	// Upgrade to starter (limit 1000): the hidden overflow is revealed.
	repo.plan = "starter"
	if err := svc.Recompute(1, now); err != nil {
		t.Fatalf("recompute after upgrade failed: %v", err)
	}
	for _, rec := range repo.records[1] {
		if !rec.Visible {
			t.Fatalf("record %d still hidden after upgrade", rec.ID)
		}
	}
}

func TestRecomputeLeavesPriorCyclesAlone(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cycleStart := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	repo := newFakeRepo("free")
	repo.cycleStart = &cycleStart
	repo.projects = []models.Project{{ID: 1, Status: models.ProjectStatusActive}}

	old := models.Feedback{ID: 900, ProjectID: 1, CreatedAt: cycleStart.Add(-time.Hour), Visible: false}
	current := models.Feedback{ID: 901, ProjectID: 1, CreatedAt: now, Visible: false}
	repo.records[1] = []models.Feedback{current, old}

	svc := NewService(repo)
	if err := svc.Recompute(1, now); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	if !repo.records[1][0].Visible {
		t.Fatalf("in-window record must be revealed")
	}
	if repo.records[1][1].Visible {
		t.Fatalf("record from a prior cycle must be left untouched")
	}
}

func TestStats(t *testing.T) {
	repo := newFakeRepo("free")
	repo.records[1] = []models.Feedback{
		{ID: 1, Visible: true},
		{ID: 2, Visible: true},
		{ID: 3, Visible: false},
	}

	svc := NewService(repo)
	stats, err := svc.Stats(1)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalVisible != 2 || stats.TotalHidden != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
