package models

import "time"

// UsageCounter tracks per-user consumption for the current billing cycle.
// RecordsUsed only ever moves up via a datastore-atomic increment and back to
// zero via an explicit cycle reset; it never decreases otherwise.
type UsageCounter struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	RecordsUsed int64      `gorm:"not null;default:0" json:"records_used"`
	LastResetAt *time.Time `gorm:"type:timestamp;default:null" json:"last_reset_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
