package cycle

import (
	"time"

	"github.com/feedbird/feedbird/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the cycle state machine.
type Repository interface {
	GetOrCreateSubscription(userID uint) (*models.BillingSubscription, error)
	// AdvanceCycleIfCurrent conditionally writes the new cycle window. The
	// write only lands when the stored cycle_end still equals prevEnd; it
	// returns false when another advance won the race.
	AdvanceCycleIfCurrent(userID uint, prevEnd *time.Time, newStart, newEnd time.Time) (bool, error)
	GetLastResetAt(userID uint) (*time.Time, error)
	ListDueUserIDs(now time.Time) ([]uint, error)
	ListDueUserIDsWithin(now, until time.Time) ([]uint, error)
	ListAllUserIDs() ([]uint, error)
	CountUsers() (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a cycle repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateSubscription(userID uint) (*models.BillingSubscription, error) {
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.BillingSubscription{UserID: userID}).Error; err != nil {
		return nil, err
	}

	var sub models.BillingSubscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) AdvanceCycleIfCurrent(userID uint, prevEnd *time.Time, newStart, newEnd time.Time) (bool, error) {
	q := r.db.Model(&models.BillingSubscription{}).Where("user_id = ?", userID)
	if prevEnd == nil {
		q = q.Where("cycle_end IS NULL")
	} else {
		q = q.Where("cycle_end = ?", *prevEnd)
	}

	tx := q.Updates(map[string]interface{}{
		"cycle_start": newStart,
		"cycle_end":   newEnd,
	})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetLastResetAt(userID uint) (*time.Time, error) {
	var counter models.UsageCounter
	if err := r.db.Where("user_id = ?", userID).First(&counter).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return counter.LastResetAt, nil
}

// ListDueUserIDs enumerates accounts whose cycle end has passed, plus
// accounts that never anchored a cycle (no subscription row or null end).
func (r *gormRepository) ListDueUserIDs(now time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.User{}).
		Joins("LEFT JOIN billing_subscriptions ON billing_subscriptions.user_id = users.id").
		Where("billing_subscriptions.cycle_end IS NULL OR billing_subscriptions.cycle_end <= ?", now).
		Pluck("users.id", &ids).Error
	return ids, err
}

func (r *gormRepository) ListDueUserIDsWithin(now, until time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.User{}).
		Joins("LEFT JOIN billing_subscriptions ON billing_subscriptions.user_id = users.id").
		Where("billing_subscriptions.cycle_end IS NULL OR billing_subscriptions.cycle_end <= ?", until).
		Pluck("users.id", &ids).Error
	return ids, err
}

func (r *gormRepository) ListAllUserIDs() ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.User{}).Pluck("id", &ids).Error
	return ids, err
}

func (r *gormRepository) CountUsers() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
