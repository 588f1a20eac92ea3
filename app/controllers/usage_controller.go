package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/plans"
	"github.com/feedbird/feedbird/internal/pkg/usage"
	"github.com/feedbird/feedbird/internal/pkg/usercontext"
)

// HandleGetUsage returns the authenticated user's consumption against the
// current plan limits.
func HandleGetUsage(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	svc := usage.NewServiceFromDB(database.GetDB())
	current, err := svc.CurrentUsage(userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load usage")
	}

	return c.JSON(fiber.Map{
		"plan":  userCtx.Plan,
		"usage": current,
	})
}

// HandleGetPlans returns the public plan catalog.
func HandleGetPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": plans.All()})
}

// HandleCanCreateProject reports whether creating another project would stay
// within the plan's active project limit.
func HandleCanCreateProject(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	svc := usage.NewServiceFromDB(database.GetDB())
	allowed, limits, err := svc.CanCreateProject(userCtx.UserID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to check project limit")
	}

	return c.JSON(fiber.Map{
		"allowed":             allowed,
		"max_active_projects": limits.MaxActiveProjects,
	})
}
