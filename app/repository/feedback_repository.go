package repository

import (
	"time"

	"github.com/feedbird/feedbird/app/models"
	"gorm.io/gorm"
)

// feedbackRepository implements the FeedbackRepository interface
type feedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository creates a new feedback repository instance
func NewFeedbackRepository(db *gorm.DB) FeedbackRepository {
	return &feedbackRepository{db: db}
}

func (r *feedbackRepository) Create(fb *models.Feedback) error {
	return r.db.Create(fb).Error
}

func (r *feedbackRepository) GetByUUID(uuid string) (*models.Feedback, error) {
	var fb models.Feedback
	err := r.db.Where("uuid = ?", uuid).First(&fb).Error
	if err != nil {
		return nil, err
	}
	return &fb, nil
}

// ListByProject returns feedback newest-first. Hidden (over-quota) records
// are excluded unless includeHidden is set by the project owner.
func (r *feedbackRepository) ListByProject(projectID uint, offset, limit int, includeHidden bool) ([]models.Feedback, error) {
	q := r.db.Where("project_id = ?", projectID)
	if !includeHidden {
		q = q.Where("visible = ?", true)
	}
	var records []models.Feedback
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&records).Error
	return records, err
}

// ListByProjectSince returns all records created at or after the given time,
// newest-first, regardless of visibility. Used by visibility recompute.
func (r *feedbackRepository) ListByProjectSince(projectID uint, since time.Time) ([]models.Feedback, error) {
	var records []models.Feedback
	err := r.db.Where("project_id = ? AND created_at >= ?", projectID, since).
		Order("created_at DESC").Find(&records).Error
	return records, err
}

func (r *feedbackRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Feedback{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *feedbackRepository) CountVisibleByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Feedback{}).
		Where("user_id = ? AND visible = ?", userID, true).
		Count(&count).Error
	return count, err
}

func (r *feedbackRepository) SetVisibility(ids []uint, visible bool) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.Feedback{}).
		Where("id IN ?", ids).
		Update("visible", visible).Error
}
