package reports

import (
	"encoding/json"
	"log"
	"time"

	"github.com/feedbird/feedbird/app/models"
	"github.com/feedbird/feedbird/internal/pkg/cache"
	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/plans"
)

const (
	CacheKeyUsageSummary = "reports:usage:summary"
	CacheExpiration      = 30 * time.Minute

	// Default "approaching" threshold as a fraction of the record quota.
	DefaultApproachingThreshold = 0.8
)

// UserUsage is one row of the admin usage report.
type UserUsage struct {
	UserID       uint    `json:"user_id"`
	Plan         string  `json:"plan"`
	RecordsUsed  int64   `json:"records_used"`
	RecordsLimit int64   `json:"records_limit"`
	Percentage   float64 `json:"percentage"`
}

// UsageSummary aggregates plan distribution and quota pressure across all
// accounts. Consumed by operational tooling and the scheduled report job.
type UsageSummary struct {
	TotalUsers        int64            `json:"total_users"`
	PlanDistribution  map[string]int64 `json:"plan_distribution"`
	UsersOverLimit    int              `json:"users_over_limit"`
	UsersApproaching  int              `json:"users_approaching_limit"`
	TotalRecordsCycle int64            `json:"total_records_this_cycle"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

type usageRow struct {
	UserID      uint
	Plan        string
	RecordsUsed int64
}

func loadUsageRows() ([]usageRow, error) {
	db := database.GetDB()

	var rows []usageRow
	err := db.Model(&models.UserSettings{}).
		Select("user_settings.user_id AS user_id, user_settings.plan AS plan, COALESCE(usage_counters.records_used, 0) AS records_used").
		Joins("LEFT JOIN usage_counters ON usage_counters.user_id = user_settings.user_id").
		Scan(&rows).Error
	return rows, err
}

func toUserUsage(row usageRow) UserUsage {
	limits, err := plans.LimitsFor(row.Plan)
	if err != nil {
		// Unknown plans are surfaced loudly, never silently defaulted.
		log.Printf("usage report: user %d references unknown plan %q", row.UserID, row.Plan)
		return UserUsage{UserID: row.UserID, Plan: row.Plan, RecordsUsed: row.RecordsUsed}
	}

	pct := 0.0
	if limits.MaxRecordsPerCycle > 0 {
		pct = float64(row.RecordsUsed) / float64(limits.MaxRecordsPerCycle) * 100
	}
	return UserUsage{
		UserID:       row.UserID,
		Plan:         plans.Normalize(row.Plan),
		RecordsUsed:  row.RecordsUsed,
		RecordsLimit: int64(limits.MaxRecordsPerCycle),
		Percentage:   pct,
	}
}

// GetUsageSummary computes the aggregate usage report, served from cache when
// fresh.
func GetUsageSummary() (*UsageSummary, error) {
	if cached, err := cache.Get(CacheKeyUsageSummary); err == nil && cached != "" {
		var summary UsageSummary
		if err := json.Unmarshal([]byte(cached), &summary); err == nil {
			return &summary, nil
		}
	}

	rows, err := loadUsageRows()
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		PlanDistribution: make(map[string]int64),
		GeneratedAt:      time.Now(),
	}
	for _, row := range rows {
		summary.TotalUsers++
		summary.PlanDistribution[plans.Normalize(row.Plan)]++
		summary.TotalRecordsCycle += row.RecordsUsed

		uu := toUserUsage(row)
		if uu.RecordsLimit == 0 {
			continue
		}
		if uu.RecordsUsed > uu.RecordsLimit {
			summary.UsersOverLimit++
		} else if uu.Percentage >= DefaultApproachingThreshold*100 {
			summary.UsersApproaching++
		}
	}

	if encoded, err := json.Marshal(summary); err == nil {
		if err := cache.Set(CacheKeyUsageSummary, string(encoded), CacheExpiration); err != nil {
			log.Printf("usage report: failed to cache summary: %v", err)
		}
	}

	return summary, nil
}

// GetUsersApproachingLimits lists accounts at or above the given fraction of
// their record quota but not yet over it.
func GetUsersApproachingLimits(threshold float64) ([]UserUsage, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultApproachingThreshold
	}

	rows, err := loadUsageRows()
	if err != nil {
		return nil, err
	}

	var out []UserUsage
	for _, row := range rows {
		uu := toUserUsage(row)
		if uu.RecordsLimit == 0 {
			continue
		}
		if uu.RecordsUsed <= uu.RecordsLimit && uu.Percentage >= threshold*100 {
			out = append(out, uu)
		}
	}
	return out, nil
}

// GetUsersOverLimits lists accounts whose cycle usage exceeds their quota.
func GetUsersOverLimits() ([]UserUsage, error) {
	rows, err := loadUsageRows()
	if err != nil {
		return nil, err
	}

	var out []UserUsage
	for _, row := range rows {
		uu := toUserUsage(row)
		if uu.RecordsLimit > 0 && uu.RecordsUsed > uu.RecordsLimit {
			out = append(out, uu)
		}
	}
	return out, nil
}
