package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/flowkitio/flowkit/internal/pkg/billing"
)

// WebhookController ingests the Stripe event stream. Signature verification
// gates everything: an unverified payload is never decoded, recorded or
// dispatched.
type WebhookController struct {
	svc           *billing.Service
	webhookSecret string
}

func NewWebhookController(svc *billing.Service, webhookSecret string) *WebhookController {
	return &WebhookController{svc: svc, webhookSecret: webhookSecret}
}

// HandleStripeWebhook verifies, deduplicates and dispatches one delivery.
// Handler failures are recorded on the event and still acknowledged with
// 200 so Stripe does not retry what a replay tool can reprocess.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	event, err := webhook.ConstructEventWithOptions(payload, signature, wc.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warnf("webhook signature verification failed: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid signature")
	}

	first, stored, err := wc.svc.RecordEvent(c.Context(), event.ID, string(event.Type), payload)
	if err != nil {
		log.Errorf("failed to record webhook %s: %v", event.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to record event")
	}
	if !first {
		log.Debugf("duplicate webhook delivery %s", event.ID)
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	if err := wc.svc.ProcessEvent(c.Context(), stored, event.Data.Raw); err != nil {
		// Outcome already recorded on the event; acknowledge anyway.
		return c.JSON(fiber.Map{"received": true})
	}
	return c.JSON(fiber.Map{"received": true})
}
