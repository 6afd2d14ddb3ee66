package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/app/repository"
	"github.com/flowkitio/flowkit/internal/pkg/billing"
	"github.com/flowkitio/flowkit/internal/pkg/env"
	"github.com/flowkitio/flowkit/internal/pkg/usercontext"
)

// BillingController serves checkout, portal and subscription reads. All
// subscription state comes from the local store; only checkout and portal
// creation talk to the gateway.
type BillingController struct {
	gw       billing.Gateway
	svc      *billing.Service
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
}

func NewBillingController(gw billing.Gateway, svc *billing.Service, repos *repository.Repositories) *BillingController {
	return &BillingController{
		gw:       gw,
		svc:      svc,
		users:    repos.User,
		subs:     repos.Subscription,
		payments: repos.Payment,
	}
}

type checkoutSessionRequest struct {
	PriceID  string `json:"priceId"`
	PlanID   string `json:"planId"`
	Interval string `json:"interval"`
}

// HandleCreateCheckoutSession opens a hosted checkout for the caller.
func (bc *BillingController) HandleCreateCheckoutSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if req.PriceID == "" || req.PlanID == "" || req.Interval == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Missing required fields: priceId, planId, interval")
	}
	if !strings.HasPrefix(req.PriceID, "price_") {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid price ID format")
	}

	// Reuse the caller's existing customer so repeated checkouts never
	// fork their billing history.
	customerID := ""
	if user, err := bc.users.GetByAuthID(c.Context(), userCtx.AuthUserID); err == nil && user.StripeCustomerID != "" {
		customerID = user.StripeCustomerID
	} else if userCtx.Email != "" {
		if customer, lookupErr := bc.gw.GetOrCreateCustomer(c.Context(), userCtx.Email, userCtx.AuthUserID); lookupErr == nil && customer != nil {
			customerID = customer.ID
		} else if lookupErr != nil {
			log.Warnf("customer lookup for %s failed: %v", userCtx.AuthUserID, lookupErr)
		}
	}

	appURL := env.GetEnv("APP_URL", "http://localhost:4000")
	session, err := bc.gw.CreateCheckoutSession(c.Context(), billing.CheckoutParams{
		CustomerID: customerID,
		PriceID:    req.PriceID,
		AuthUserID: userCtx.AuthUserID,
		PlanID:     req.PlanID,
		Interval:   billing.NormalizeInterval(req.Interval),
		SuccessURL: fmt.Sprintf("%s/dashboard?success=true&session_id={CHECKOUT_SESSION_ID}&plan=%s", appURL, req.PlanID),
		CancelURL:  appURL + "/pricing?canceled=true",
	})
	if err != nil {
		if msg, ok := billing.IsGatewayError(err); ok {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", msg)
		}
		log.Errorf("checkout session for %s failed: %v", userCtx.AuthUserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create checkout session")
	}

	log.Infof("created checkout session %s for user %s plan %s", session.ID, userCtx.AuthUserID, req.PlanID)

	sessionCustomerID := customerID
	if session.Customer != nil {
		sessionCustomerID = session.Customer.ID
	}
	return c.JSON(fiber.Map{
		"sessionId":  session.ID,
		"customerId": sessionCustomerID,
		"url":        session.URL,
	})
}

// HandleCreatePortalSession opens the self-service billing portal. Requires
// an already linked Stripe customer.
func (bc *BillingController) HandleCreatePortalSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	user, err := bc.users.GetByAuthID(c.Context(), userCtx.AuthUserID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}
	customerID := user.StripeCustomerID
	if customerID == "" && user.Email != "" {
		if existing, lookupErr := bc.gw.FindCustomerByEmail(c.Context(), user.Email); lookupErr == nil && existing != nil {
			customerID = existing.ID
		}
	}
	if customerID == "" {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Customer not found")
	}

	appURL := env.GetEnv("APP_URL", "http://localhost:4000")
	session, err := bc.gw.CreatePortalSession(c.Context(), customerID, appURL+"/dashboard")
	if err != nil {
		if msg, ok := billing.IsGatewayError(err); ok {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", msg)
		}
		log.Errorf("portal session for %s failed: %v", userCtx.AuthUserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create portal session")
	}

	return c.JSON(fiber.Map{"url": session.URL})
}

// HandleGetSubscription returns the caller's account and subscription state
// from the local store. No gateway calls.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	overview, err := bc.svc.GetAccountOverview(c.Context(), userCtx.AuthUserID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return c.JSON(fiber.Map{
				"hasSubscription": false,
				"subscription":    nil,
				"customer":        nil,
			})
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to fetch subscription")
	}

	customer := fiber.Map{
		"id":    nullableString(overview.User.StripeCustomerID),
		"email": overview.User.Email,
		"name":  overview.User.Name,
	}

	if overview.Subscription == nil {
		return c.JSON(fiber.Map{
			"hasSubscription": false,
			"subscription":    nil,
			"customer":        customer,
		})
	}

	return c.JSON(fiber.Map{
		"hasSubscription": true,
		"subscription":    formatSubscription(overview.Subscription),
		"customer":        customer,
	})
}

type cancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// HandleDeleteSubscription does not cancel anything; it points the caller
// at the billing portal. Actual cancellation stays with Stripe so state
// always flows back through the webhook stream.
func (bc *BillingController) HandleDeleteSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req cancelSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if req.SubscriptionID == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Subscription ID required")
	}

	if _, err := bc.users.GetByAuthID(c.Context(), userCtx.AuthUserID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	sub, err := bc.subs.GetActiveByAuthID(c.Context(), userCtx.AuthUserID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}

	return c.JSON(fiber.Map{
		"message": "Please cancel your subscription through the billing portal or contact support",
		"subscription": fiber.Map{
			"id":                sub.StripeSubscriptionID,
			"status":            sub.Status,
			"cancelAtPeriodEnd": sub.CancelAtPeriodEnd,
			"currentPeriodEnd":  sub.CurrentPeriodEnd.UTC().Format(timeFormat),
		},
	})
}

// HandleGetPayments lists the caller's recorded payments, newest first.
func (bc *BillingController) HandleGetPayments(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	payments, err := bc.payments.ListByAuthID(c.Context(), userCtx.AuthUserID)
	if err != nil {
		log.Errorf("payments for %s failed: %v", userCtx.AuthUserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to fetch payments")
	}

	out := make([]fiber.Map, 0, len(payments))
	for _, p := range payments {
		out = append(out, fiber.Map{
			"id":              p.ID.Hex(),
			"invoiceId":       p.StripeInvoiceID,
			"subscriptionId":  p.StripeSubscriptionID,
			"amount":          p.Amount,
			"currency":        billing.NormalizeCurrency(p.Currency),
			"status":          p.Status,
			"paidAt":          formatTimePtr(p.PaidAt),
			"createdAt":       p.CreatedAt.UTC().Format(timeFormat),
		})
	}
	return c.JSON(fiber.Map{"payments": out})
}

// formatSubscription renders the local record in the API shape. Currency
// always falls back to USD so readers never see an empty code.
func formatSubscription(sub *models.Subscription) fiber.Map {
	return fiber.Map{
		"id":                 sub.StripeSubscriptionID,
		"status":             sub.Status,
		"planId":             sub.PlanID,
		"interval":           sub.Interval,
		"currentPeriodStart": sub.CurrentPeriodStart.UTC().Format(timeFormat),
		"currentPeriodEnd":   sub.CurrentPeriodEnd.UTC().Format(timeFormat),
		"cancelAtPeriodEnd":  sub.CancelAtPeriodEnd,
		"trialEnd":           formatTimePtr(sub.TrialEnd),
		"amount":             sub.Plan.UnitAmount,
		"currency":           billing.NormalizeCurrency(sub.Plan.Currency),
		"stripeCustomerId":   sub.StripeCustomerID,
		"createdAt":          sub.CreatedAt.UTC().Format(timeFormat),
		"updatedAt":          sub.UpdatedAt.UTC().Format(timeFormat),
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
