package reports

import "testing"

func TestToUserUsage(t *testing.T) {
	uu := toUserUsage(usageRow{UserID: 1, Plan: "starter", RecordsUsed: 800})
	if uu.RecordsLimit != 1000 {
		t.Fatalf("starter record limit = %d, want 1000", uu.RecordsLimit)
	}
	if uu.Percentage != 80 {
		t.Fatalf("percentage = %f, want 80", uu.Percentage)
	}
	if uu.Percentage < DefaultApproachingThreshold*100 {
		t.Fatalf("800/1000 must count as approaching the limit")
	}
}

func TestToUserUsageUnknownPlan(t *testing.T) {
	uu := toUserUsage(usageRow{UserID: 2, Plan: "enterprise", RecordsUsed: 50})
	if uu.RecordsLimit != 0 || uu.Percentage != 0 {
		t.Fatalf("unknown plan must not be silently defaulted: %+v", uu)
	}
	if uu.RecordsUsed != 50 {
		t.Fatalf("usage still reported for unknown plan, got %d", uu.RecordsUsed)
	}
}
