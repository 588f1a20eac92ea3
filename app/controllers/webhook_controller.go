package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/feedbird/feedbird/internal/pkg/billing"
	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/env"
)

// HandleBillingWebhook receives payment provider webhook deliveries. The
// endpoint is unauthenticated; the HMAC signature header is the only guard.
// A non-2xx response makes the provider redeliver, so transient handler
// failures return 500 while permanently unusable events return 200.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Webhook-Signature")
	secret := env.GetEnv("WEBHOOK_SECRET", "")
	if secret == "" {
		log.Error("[Webhook] WEBHOOK_SECRET is not configured, rejecting delivery")
		return errorResponse(c, fiber.StatusInternalServerError, "webhook_not_configured", "Webhook secret not configured")
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	result, err := svc.Ingest(rawBody, signature, secret)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return errorResponse(c, fiber.StatusUnauthorized, "invalid_signature", "Webhook signature verification failed")
		}
		log.Errorf("[Webhook] Event processing failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Event processing failed")
	}

	if result.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if result.Ignored {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "event_id": result.EventID})
}
