package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/feedbird/feedbird/internal/pkg/reports"
)

// HandleAdminUsageSummary returns the aggregated usage report across all
// accounts. The report is cached in Redis for a short window.
func HandleAdminUsageSummary(c *fiber.Ctx) error {
	summary, err := reports.GetUsageSummary()
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to build usage summary")
	}
	return c.JSON(summary)
}

// HandleAdminUsersApproachingLimits lists users above the given fraction of
// their record quota (default 0.8).
func HandleAdminUsersApproachingLimits(c *fiber.Ctx) error {
	threshold := reports.DefaultApproachingThreshold
	if v := c.QueryFloat("threshold", 0); v > 0 && v < 1 {
		threshold = v
	}

	users, err := reports.GetUsersApproachingLimits(threshold)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load approaching users")
	}
	return c.JSON(fiber.Map{"threshold": threshold, "users": users})
}

// HandleAdminUsersOverLimits lists users past their record quota.
func HandleAdminUsersOverLimits(c *fiber.Ctx) error {
	users, err := reports.GetUsersOverLimits()
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load over-limit users")
	}
	return c.JSON(fiber.Map{"users": users})
}
