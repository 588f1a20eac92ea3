package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseQueryInt reads a query parameter as a bounded int, falling back to def
// when absent or out of range.
func parseQueryInt(c *fiber.Ctx, key string, def, min, max int) int {
	v := c.QueryInt(key, def)
	if v < min || v > max {
		return def
	}
	return v
}
