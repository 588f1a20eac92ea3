package repository

import (
	"time"

	"github.com/feedbird/feedbird/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// ProjectRepository defines the interface for project-related database operations
type ProjectRepository interface {
	Create(project *models.Project) error
	GetByID(id uint) (*models.Project, error)
	GetByUUID(uuid string) (*models.Project, error)
	GetByUserID(userID uint) ([]models.Project, error)
	CountActiveByUserID(userID uint) (int64, error)
	Update(project *models.Project) error
	Archive(id uint) error
}

// FeedbackRepository defines the interface for feedback-related database operations
type FeedbackRepository interface {
	Create(fb *models.Feedback) error
	GetByUUID(uuid string) (*models.Feedback, error)
	ListByProject(projectID uint, offset, limit int, includeHidden bool) ([]models.Feedback, error)
	ListByProjectSince(projectID uint, since time.Time) ([]models.Feedback, error)
	CountByUserID(userID uint) (int64, error)
	CountVisibleByUserID(userID uint) (int64, error)
	SetVisibility(ids []uint, visible bool) error
}
