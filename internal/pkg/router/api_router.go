package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/feedbird/feedbird/app/controllers"
	"github.com/feedbird/feedbird/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Public routes
	v1.Post("/register", controllers.HandleRegister)
	v1.Get("/plans", controllers.HandleGetPlans)

	// Authenticated routes
	auth := v1.Group("/", middleware.APIKeyAuthMiddleware())
	auth.Get("/account", controllers.HandleGetAccount)
	auth.Post("/account/api-key/rotate", controllers.HandleRotateAPIKey)
	auth.Post("/account/api-key/revoke", controllers.HandleRevokeAPIKey)

	auth.Get("/usage", controllers.HandleGetUsage)
	auth.Get("/usage/can-create-project", controllers.HandleCanCreateProject)

	auth.Post("/projects", controllers.HandleCreateProject)
	auth.Get("/projects", controllers.HandleListProjects)
	auth.Post("/projects/:uuid/archive", controllers.HandleArchiveProject)

	auth.Post("/projects/:uuid/feedback", controllers.HandleCreateFeedback)
	auth.Get("/projects/:uuid/feedback", controllers.HandleListFeedback)
	auth.Get("/feedback/stats", controllers.HandleFeedbackStats)
	auth.Post("/feedback/recompute-visibility", controllers.HandleRecomputeVisibility)

	// Admin routes
	admin := auth.Group("/admin", middleware.AdminOnlyMiddleware())
	admin.Get("/usage/summary", controllers.HandleAdminUsageSummary)
	admin.Get("/usage/approaching", controllers.HandleAdminUsersApproachingLimits)
	admin.Get("/usage/over-limit", controllers.HandleAdminUsersOverLimits)
	admin.Post("/cycles/sweep", controllers.HandleSweepCycles)
	admin.Get("/cycles/preview", controllers.HandlePreviewCycles)
	admin.Post("/cycles/reset-all", controllers.HandleResetAllCycles)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
