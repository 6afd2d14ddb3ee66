package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/flowkitio/flowkit/app/controllers"
)

// WebhookRouter registers the Stripe ingestion endpoint outside the API
// group: no rate limiter and no auth middleware, signature verification is
// the gate.
type WebhookRouter struct {
	deps *Dependencies
}

func NewWebhookRouter(deps *Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}

func (h *WebhookRouter) InstallRouter(app *fiber.App) {
	ctrl := controllers.NewWebhookController(h.deps.BillingService, h.deps.WebhookSecret)
	app.Post("/webhooks/stripe", ctrl.HandleStripeWebhook)
}
