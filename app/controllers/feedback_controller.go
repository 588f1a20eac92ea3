package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/feedbird/feedbird/app/models"
	"github.com/feedbird/feedbird/app/repository"
	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/usage"
	"github.com/feedbird/feedbird/internal/pkg/usercontext"
	"github.com/feedbird/feedbird/internal/pkg/visibility"
)

const (
	defaultFeedbackPageSize = 25
	maxFeedbackPageSize     = 100
)

type createFeedbackRequest struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	AuthorEmail string `json:"author_email"`
	PageURL     string `json:"page_url"`
}

// HandleCreateFeedback stores a feedback record against a project. Quota
// overflow is soft: the record is always persisted, but past the plan limit
// it is created hidden so nothing submitted by end users is ever lost.
func HandleCreateFeedback(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	project, err := ownedProject(c, userCtx.UserID)
	if err != nil {
		return err
	}
	if project.Status != models.ProjectStatusActive {
		return errorResponse(c, fiber.StatusConflict, "project_archived", "Archived projects do not accept feedback")
	}

	var req createFeedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}
	if req.Message == "" {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Message is required")
	}
	if req.Type == "" {
		req.Type = models.FeedbackTypeGeneral
	}

	usageSvc := usage.NewServiceFromDB(database.GetDB())
	_, countErr := usageSvc.RecordCreated(userCtx.UserID)
	overLimit := errors.Is(countErr, usage.ErrLimitExceeded)
	if countErr != nil && !overLimit {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to account record")
	}

	fb := &models.Feedback{
		ProjectID:   project.ID,
		UserID:      userCtx.UserID,
		Type:        req.Type,
		Message:     req.Message,
		AuthorEmail: req.AuthorEmail,
		PageURL:     req.PageURL,
		Visible:     !overLimit,
	}
	repo := repository.GetGlobalFactory().GetFeedbackRepository()
	if err := repo.Create(fb); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store feedback")
	}

	if overLimit {
		log.Debugf("[Feedback] User %d over record quota, stored record %s hidden", userCtx.UserID, fb.UUID)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"feedback":   fb,
		"over_limit": overLimit,
	})
}

// HandleListFeedback returns a page of feedback for a project, newest first.
// Hidden records are excluded unless include_hidden=true is passed.
func HandleListFeedback(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	project, err := ownedProject(c, userCtx.UserID)
	if err != nil {
		return err
	}

	skip := parseQueryInt(c, "skip", 0, 0, 1<<30)
	take := parseQueryInt(c, "take", defaultFeedbackPageSize, 1, maxFeedbackPageSize)
	includeHidden := c.QueryBool("include_hidden", false)

	repo := repository.GetGlobalFactory().GetFeedbackRepository()
	records, err := repo.ListByProject(project.ID, skip, take, includeHidden)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load feedback")
	}

	return c.JSON(fiber.Map{
		"feedback": records,
		"skip":     skip,
		"take":     take,
	})
}

// HandleFeedbackStats returns visible/hidden record counts for the user.
func HandleFeedbackStats(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	svc := visibility.NewServiceFromDB(database.GetDB())
	stats, err := svc.Stats(userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load feedback statistics")
	}

	return c.JSON(stats)
}

// HandleRecomputeVisibility re-runs the visibility ranking for the user's
// current cycle window. Normally triggered by plan changes and cycle resets;
// exposed for manual repair.
func HandleRecomputeVisibility(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	svc := visibility.NewServiceFromDB(database.GetDB())
	if err := svc.Recompute(userCtx.UserID, time.Now()); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to recompute visibility")
	}

	return c.JSON(fiber.Map{"ok": true})
}
