package models

import "time"

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

const (
	BillingStatusActive     = "active"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
)

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// BillingSubscription is the per-user subscription state synced from the
// payment provider: plan, status and the current billing-cycle anchor.
// CycleStart/CycleEnd stay null until the first checkout anchors a cycle; a
// never-billed free user is treated as always due for calendar-month resets.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;default:'stripe';index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderCustomerRef    string     `gorm:"type:varchar(191);default:'';index" json:"provider_customer_ref"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderPlanRef        string     `gorm:"type:varchar(191);not null;default:''" json:"provider_plan_ref"`
	Plan                   string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	BillingInterval        string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CycleStart             *time.Time `gorm:"type:timestamp;default:null" json:"cycle_start,omitempty"`
	CycleEnd               *time.Time `gorm:"type:timestamp;default:null;index" json:"cycle_end,omitempty"`
	LastEventAt            *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCanceled reports whether the subscription was terminally canceled.
// Canceled users keep read access under the last known plan's limits.
func (s *BillingSubscription) IsCanceled() bool {
	return s.Status == BillingStatusCanceled
}
