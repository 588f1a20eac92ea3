package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/feedbird/feedbird/app/controllers"
)

// WebhookRouter installs the payment provider webhook endpoint. The route is
// deliberately outside the /api group: no rate limiter and no API key
// middleware, since the provider authenticates via the signature header and
// throttling deliveries would only force redelivery storms.
type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
