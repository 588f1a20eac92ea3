package visibility

import (
	"errors"
	"time"

	"github.com/feedbird/feedbird/app/models"
	"gorm.io/gorm"
)

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a visibility repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListActiveProjects(userID uint) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.Where("user_id = ? AND status = ?", userID, models.ProjectStatusActive).
		Find(&projects).Error
	return projects, err
}

func (r *gormRepository) ListRecordsSince(projectID uint, since time.Time) ([]models.Feedback, error) {
	var records []models.Feedback
	err := r.db.Where("project_id = ? AND created_at >= ?", projectID, since).
		Order("created_at DESC").Find(&records).Error
	return records, err
}

func (r *gormRepository) SetVisibility(ids []uint, visible bool) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.Feedback{}).
		Where("id IN ?", ids).
		Update("visible", visible).Error
}

func (r *gormRepository) CountByUser(userID uint) (int64, int64, error) {
	var total, visible int64
	if err := r.db.Model(&models.Feedback{}).
		Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.Model(&models.Feedback{}).
		Where("user_id = ? AND visible = ?", userID, true).Count(&visible).Error; err != nil {
		return 0, 0, err
	}
	return total, visible, nil
}

func (r *gormRepository) GetPlan(userID uint) (string, error) {
	us, err := models.GetOrCreateUserSettings(r.db, userID)
	if err != nil {
		return "", err
	}
	return us.Plan, nil
}

func (r *gormRepository) GetCycleStart(userID uint) (*time.Time, error) {
	var sub models.BillingSubscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Never-billed account, no anchor.
			return nil, nil
		}
		return nil, err
	}
	return sub.CycleStart, nil
}
