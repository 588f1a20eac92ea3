package controllers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/feedbird/feedbird/app/models"
	"github.com/feedbird/feedbird/app/repository"
	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/usage"
	"github.com/feedbird/feedbird/internal/pkg/usercontext"
)

type createProjectRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// HandleCreateProject creates a project after checking the plan's active
// project limit. Unlike record creation this is a hard gate: over the limit
// the project is not created at all.
func HandleCreateProject(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req createProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}

	usageSvc := usage.NewServiceFromDB(database.GetDB())
	allowed, limits, err := usageSvc.CanCreateProject(userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to check project limit")
	}
	if !allowed {
		msg := fmt.Sprintf("Your plan allows at most %d active projects. Archive a project or upgrade to create more.", limits.MaxActiveProjects)
		return errorResponse(c, fiber.StatusForbidden, "project_limit_reached", msg)
	}

	project := &models.Project{
		UserID: userCtx.UserID,
		Name:   req.Name,
		Domain: req.Domain,
		Status: models.ProjectStatusActive,
	}
	if err := project.Validate(); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Project name must be between 2 and 150 characters")
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	if err := repo.Create(project); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create project")
	}

	return c.Status(fiber.StatusCreated).JSON(project)
}

// HandleListProjects returns all projects owned by the authenticated user.
func HandleListProjects(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	projects, err := repo.GetByUserID(userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load projects")
	}

	return c.JSON(fiber.Map{"projects": projects})
}

// HandleArchiveProject archives a project, freeing an active project slot.
func HandleArchiveProject(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	project, err := ownedProject(c, userCtx.UserID)
	if err != nil {
		return err
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	if err := repo.Archive(project.ID); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to archive project")
	}

	return c.JSON(fiber.Map{"ok": true})
}

// ownedProject loads the project from the :uuid path parameter and verifies
// ownership. Foreign projects return 404 rather than 403 to avoid leaking
// their existence.
func ownedProject(c *fiber.Ctx, userID uint) (*models.Project, error) {
	projectUUID := c.Params("uuid")
	if projectUUID == "" {
		return nil, errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Missing project identifier")
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	project, err := repo.GetByUUID(projectUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorResponse(c, fiber.StatusNotFound, "not_found", "Project not found")
		}
		return nil, errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load project")
	}
	if project.UserID != userID {
		return nil, errorResponse(c, fiber.StatusNotFound, "not_found", "Project not found")
	}
	return project, nil
}
