package usage

import (
	"time"

	"github.com/feedbird/feedbird/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by usage accounting.
type Repository interface {
	GetOrCreateCounter(userID uint) (*models.UsageCounter, error)
	IncrementRecords(userID uint) (int64, error)
	ResetRecords(userID uint, now time.Time) error
	CountActiveProjects(userID uint) (int64, error)
	GetPlan(userID uint) (string, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a usage repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateCounter(userID uint) (*models.UsageCounter, error) {
	if err := r.ensureCounter(userID); err != nil {
		return nil, err
	}
	var counter models.UsageCounter
	if err := r.db.Where("user_id = ?", userID).First(&counter).Error; err != nil {
		return nil, err
	}
	return &counter, nil
}

// ensureCounter lazily creates the per-user counter row. Insert-if-absent so
// concurrent first increments cannot create duplicates.
func (r *gormRepository) ensureCounter(userID uint) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.UsageCounter{UserID: userID}).Error
}

// IncrementRecords bumps records_used by one inside the database so that
// concurrent increments cannot lose updates, then reads the row back. The
// read-back may observe a value higher than this call's own increment when
// another increment lands in between; callers treat the value as a lower
// bound for over-quota marking, which only errs toward hiding.
func (r *gormRepository) IncrementRecords(userID uint) (int64, error) {
	if err := r.ensureCounter(userID); err != nil {
		return 0, err
	}
	if err := r.db.Model(&models.UsageCounter{}).
		Where("user_id = ?", userID).
		UpdateColumn("records_used", gorm.Expr("records_used + ?", 1)).Error; err != nil {
		return 0, err
	}

	var counter models.UsageCounter
	if err := r.db.Where("user_id = ?", userID).First(&counter).Error; err != nil {
		return 0, err
	}
	return counter.RecordsUsed, nil
}

func (r *gormRepository) ResetRecords(userID uint, now time.Time) error {
	if err := r.ensureCounter(userID); err != nil {
		return err
	}
	return r.db.Model(&models.UsageCounter{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"records_used":  0,
			"last_reset_at": &now,
		}).Error
}

func (r *gormRepository) CountActiveProjects(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Project{}).
		Where("user_id = ? AND status = ?", userID, models.ProjectStatusActive).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) GetPlan(userID uint) (string, error) {
	us, err := models.GetOrCreateUserSettings(r.db, userID)
	if err != nil {
		return "", err
	}
	return us.Plan, nil
}
