package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/feedbird/feedbird/internal/pkg/cycle"
	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/usage"
	"github.com/feedbird/feedbird/internal/pkg/visibility"
)

const sweepRequestTimeout = 5 * time.Minute

func cycleService() *cycle.Service {
	db := database.GetDB()
	return cycle.NewServiceFromDB(db, usage.NewServiceFromDB(db), visibility.NewServiceFromDB(db))
}

// HandleSweepCycles runs a due-accounts sweep immediately. The scheduler runs
// the same sweep periodically; this endpoint exists for operational use.
func HandleSweepCycles(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), sweepRequestTimeout)
	defer cancel()

	result, err := cycleService().SweepDueAccounts(ctx, time.Now())
	if err != nil {
		log.Errorf("[Cycle] Manual sweep failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "sweep_failed", "Cycle sweep failed")
	}

	return c.JSON(result)
}

// HandlePreviewCycles lists accounts that would be due within the horizon
// without mutating anything.
func HandlePreviewCycles(c *fiber.Ctx) error {
	horizonDays := parseQueryInt(c, "horizon_days", 0, 0, 365)

	result, err := cycleService().PreviewDueAccounts(time.Now(), horizonDays)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "preview_failed", "Cycle preview failed")
	}

	return c.JSON(result)
}

// HandleResetAllCycles forces a reset for every account regardless of due
// state. Destructive; kept for recovery after a corrupted sweep.
func HandleResetAllCycles(c *fiber.Ctx) error {
	result, err := cycleService().ResetAllAccounts(time.Now())
	if err != nil {
		log.Errorf("[Cycle] Reset-all failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "reset_failed", "Cycle reset failed")
	}

	return c.JSON(result)
}
