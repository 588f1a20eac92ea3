package billing

import (
	"strconv"
	"time"

	"github.com/feedbird/feedbird/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the event processor.
type Repository interface {
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingErr error) error
	MarkWebhookFailed(id uint, handlerErr error) error
	ListProcessedEventsBefore(cutoff time.Time, limit int) ([]models.BillingWebhookEvent, error)
	DeleteWebhookEvents(ids []uint) error

	GetOrCreateSubscription(userID uint) (*models.BillingSubscription, error)
	GetUserIDByCustomerRef(provider, customerRef string) (uint, error)
	ResolveLocalUser(clientReference string) (uint, error)
	UpdateSubscription(userID uint, updates map[string]interface{}) error

	FindActivePlanMapping(provider, providerPlanRef, interval string) (*models.BillingPlanMapping, error)
	GetOrCreateUserSettings(userID uint) (*models.UserSettings, error)
	SaveUserSettings(us *models.UserSettings) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkWebhookProcessed finalizes an event. A non-nil processingErr is kept
// for audit but the event still counts as handled and is never retried.
func (r *gormRepository) MarkWebhookProcessed(id uint, processingErr error) error {
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	now := time.Now()
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":    true,
		"processed_at": &now,
		"last_error":   msg,
	}).Error
}

// MarkWebhookFailed records a handler failure while keeping the entry
// unprocessed, so the provider's redelivery retries it.
func (r *gormRepository) MarkWebhookFailed(id uint, handlerErr error) error {
	msg := ""
	if handlerErr != nil {
		msg = handlerErr.Error()
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":   false,
		"retry_count": gorm.Expr("retry_count + ?", 1),
		"last_error":  msg,
	}).Error
}

func (r *gormRepository) ListProcessedEventsBefore(cutoff time.Time, limit int) ([]models.BillingWebhookEvent, error) {
	var events []models.BillingWebhookEvent
	err := r.db.Where("processed = ? AND processed_at < ?", true, cutoff).
		Order("processed_at ASC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *gormRepository) DeleteWebhookEvents(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Delete(&models.BillingWebhookEvent{}, ids).Error
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

func (r *gormRepository) GetUserIDByCustomerRef(provider, customerRef string) (uint, error) {
	var sub models.BillingSubscription
	err := r.db.Where("provider = ? AND provider_customer_ref = ?", provider, customerRef).
		First(&sub).Error
	if err != nil {
		return 0, err
	}
	return sub.UserID, nil
}

// ResolveLocalUser maps a checkout client reference to a local user id. The
// checkout session is created with the user's numeric id as the reference.
func (r *gormRepository) ResolveLocalUser(clientReference string) (uint, error) {
	id, err := strconv.ParseUint(clientReference, 10, 64)
	if err != nil {
		return 0, gorm.ErrRecordNotFound
	}
	var user models.User
	if err := r.db.First(&user, uint(id)).Error; err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (r *gormRepository) UpdateSubscription(userID uint, updates map[string]interface{}) error {
	return r.db.Model(&models.BillingSubscription{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
}

func (r *gormRepository) FindActivePlanMapping(provider, providerPlanRef, interval string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.
		Where("provider = ? AND provider_plan_ref = ? AND billing_interval = ? AND is_active = ?", provider, providerPlanRef, interval, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

func (r *gormRepository) SaveUserSettings(us *models.UserSettings) error {
	return r.db.Save(us).Error
}
