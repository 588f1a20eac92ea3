package plans

import (
	"errors"
	"fmt"
	"strings"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// ErrUnknownPlan signals a plan identifier missing from the catalog. This is
// a configuration inconsistency and is never silently defaulted.
var ErrUnknownPlan = errors.New("unknown plan")

// Limits holds the quota terms of a plan.
type Limits struct {
	MaxActiveProjects  int
	MaxRecordsPerCycle int
}

// Definition is the immutable catalog entry for a plan: quota limits, price
// terms and the provider price references used by plan mapping.
type Definition struct {
	ID                Plan
	Limits            Limits
	PriceMonthlyCents int
	PriceYearlyCents  int
	ProviderPriceRefs []string
	DisplayName       string
}

var catalog = map[Plan]Definition{
	PlanFree: {
		ID:          PlanFree,
		Limits:      Limits{MaxActiveProjects: 1, MaxRecordsPerCycle: 100},
		DisplayName: "Free",
	},
	PlanStarter: {
		ID:                PlanStarter,
		Limits:            Limits{MaxActiveProjects: 3, MaxRecordsPerCycle: 1000},
		PriceMonthlyCents: 900,
		PriceYearlyCents:  9000,
		ProviderPriceRefs: []string{"price_starter_monthly", "price_starter_yearly"},
		DisplayName:       "Starter",
	},
	PlanPro: {
		ID:                PlanPro,
		Limits:            Limits{MaxActiveProjects: 10, MaxRecordsPerCycle: 10000},
		PriceMonthlyCents: 2900,
		PriceYearlyCents:  29000,
		ProviderPriceRefs: []string{"price_pro_monthly", "price_pro_yearly"},
		DisplayName:       "Pro",
	},
}

// LimitsFor resolves the quota limits of a plan. Safe for concurrent
// unsynchronized reads; the catalog is never mutated after init.
func LimitsFor(plan string) (Limits, error) {
	def, ok := catalog[Plan(strings.ToLower(strings.TrimSpace(plan)))]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return def.Limits, nil
}

// DefinitionFor resolves the full catalog entry of a plan.
func DefinitionFor(plan string) (Definition, error) {
	def, ok := catalog[Plan(strings.ToLower(strings.TrimSpace(plan)))]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return def, nil
}

// All returns every catalog entry. Used by admin reporting.
func All() []Definition {
	out := make([]Definition, 0, len(catalog))
	for _, p := range []Plan{PlanFree, PlanStarter, PlanPro} {
		out = append(out, catalog[p])
	}
	return out
}

func Normalize(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanStarter):
		return string(PlanStarter)
	case string(PlanPro):
		return string(PlanPro)
	default:
		return string(PlanFree)
	}
}

func Rank(plan string) int {
	switch Normalize(plan) {
	case string(PlanPro):
		return 2
	case string(PlanStarter):
		return 1
	default:
		return 0
	}
}
