package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	FeedbackTypeBug     = "bug"
	FeedbackTypeIdea    = "idea"
	FeedbackTypePraise  = "praise"
	FeedbackTypeGeneral = "general"
)

// Feedback is a single collected record. Records past the plan quota are
// still written but flagged invisible; the visibility package owns the flag.
type Feedback struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UUID        string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	ProjectID   uint           `gorm:"not null;index:idx_feedback_project_created,priority:1" json:"project_id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	Type        string         `gorm:"type:varchar(20);not null;default:'general'" json:"type"`
	Message     string         `gorm:"type:text;not null" json:"message"`
	AuthorEmail string         `gorm:"type:varchar(200);default:''" json:"author_email"`
	PageURL     string         `gorm:"type:varchar(500);default:''" json:"page_url"`
	Visible     bool           `gorm:"not null;default:true;index" json:"visible"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index:idx_feedback_project_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (f *Feedback) BeforeCreate(tx *gorm.DB) error {
	if f.UUID == "" {
		f.UUID = uuid.New().String()
	}
	return nil
}
