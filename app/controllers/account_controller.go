package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/feedbird/feedbird/app/models"
	"github.com/feedbird/feedbird/app/repository"
	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/plans"
	"github.com/feedbird/feedbird/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a user account and issues the initial API key. The
// raw key is only returned here; afterwards only its hash is stored.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Name), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	// No email activation step; the key issued below is the credential.
	user.Status = models.STATUS_ACTIVE

	repo := repository.GetGlobalFactory().GetUserRepository()
	if existing, err := repo.GetByEmail(user.Email); err == nil && existing != nil {
		return errorResponse(c, fiber.StatusConflict, "email_taken", "Email is already registered")
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to check account")
	}

	if err := repo.Create(user); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create account")
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, user.ID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to initialize account settings")
	}
	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to issue API key")
	}
	if err := db.Save(settings).Error; err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store API key")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      user.ID,
		"name":    user.Name,
		"email":   user.Email,
		"plan":    plans.Normalize(settings.Plan),
		"api_key": rawKey,
	})
}

// HandleGetAccount returns account information for the authenticated user.
func HandleGetAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user settings")
	}

	plan := plans.Normalize(settings.Plan)
	limits, err := plans.LimitsFor(plan)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to resolve plan limits")
	}

	return c.JSON(fiber.Map{
		"id":                   account.ID,
		"name":                 account.Name,
		"email":                account.Email,
		"status":               account.Status,
		"plan":                 plan,
		"is_admin":             account.Role == models.ROLE_ADMIN,
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"api_key_prefix":       settings.APIKeyPrefix,
		"api_key_last_used_at": formatTimePtr(settings.APIKeyLastUsedAt),
		"limits": fiber.Map{
			"max_active_projects":   limits.MaxActiveProjects,
			"max_records_per_cycle": limits.MaxRecordsPerCycle,
		},
	})
}

// HandleRotateAPIKey replaces the user's API key. The old key stops working
// immediately.
func HandleRotateAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user settings")
	}
	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to issue API key")
	}
	if err := db.Save(settings).Error; err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store API key")
	}

	return c.JSON(fiber.Map{"api_key": rawKey})
}

// HandleRevokeAPIKey revokes the user's API key without issuing a new one.
func HandleRevokeAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user settings")
	}
	settings.RevokeAPIKey()
	if err := db.Save(settings).Error; err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to revoke API key")
	}

	return c.JSON(fiber.Map{"ok": true})
}
