package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/app/repository"
)

// Handled webhook event types. Anything else is recorded and acknowledged
// without side effects.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Service keeps the local store in sync with the Stripe webhook stream and
// answers account-state reads from local data only.
type Service struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	events   repository.WebhookEventRepository
	gw       Gateway
}

// NewService wires the sync service onto its repositories and gateway.
func NewService(repos *repository.Repositories, gw Gateway) *Service {
	return &Service{
		users:    repos.User,
		subs:     repos.Subscription,
		payments: repos.Payment,
		events:   repos.WebhookEvent,
		gw:       gw,
	}
}

// RecordEvent stores a verified webhook delivery and reports whether it is
// the first delivery of this event id.
func (s *Service) RecordEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, *models.WebhookEvent, error) {
	return s.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		StripeEventID: eventID,
		EventType:     eventType,
		PayloadJSON:   string(payload),
	})
}

// ProcessEvent dispatches one first-delivery event to its handler and
// durably records the outcome. Handler errors are returned to the caller
// after being written to the event record, so failed events stay
// inspectable and replayable.
func (s *Service) ProcessEvent(ctx context.Context, stored *models.WebhookEvent, data json.RawMessage) error {
	var handlerErr error
	switch stored.EventType {
	case EventCheckoutCompleted:
		handlerErr = s.handleCheckoutCompleted(ctx, data)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		handlerErr = s.handleSubscriptionUpserted(ctx, data)
	case EventSubscriptionDeleted:
		handlerErr = s.handleSubscriptionDeleted(ctx, data)
	case EventPaymentSucceeded:
		handlerErr = s.handlePaymentSucceeded(ctx, data)
	case EventPaymentFailed:
		handlerErr = s.handlePaymentFailed(ctx, data)
	default:
		log.Debugf("unhandled webhook event type: %s", stored.EventType)
	}

	errText := ""
	if handlerErr != nil {
		errText = handlerErr.Error()
		log.Errorf("webhook %s (%s) failed: %v", stored.StripeEventID, stored.EventType, handlerErr)
	}
	if err := s.events.MarkProcessed(ctx, stored.ID, errText); err != nil {
		log.Errorf("could not mark webhook %s processed: %v", stored.StripeEventID, err)
		if handlerErr == nil {
			return err
		}
	}
	return handlerErr
}

// handleCheckoutCompleted provisions the local user named in the session
// metadata and links the Stripe customer created by checkout. Linking only
// happens once; an established link is never overwritten.
func (s *Service) handleCheckoutCompleted(ctx context.Context, data json.RawMessage) error {
	session, err := ParseCheckoutSession(data)
	if err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	if session.AuthUserID == "" {
		return fmt.Errorf("checkout session %s carries no user metadata", session.SessionID)
	}
	if session.StripeCustomerID == "" {
		return fmt.Errorf("checkout session %s carries no customer", session.SessionID)
	}

	// A customer's first contact may be checkout, before /user/create ever
	// ran. Provision the user here so the subscription sync has an owner.
	user, err := s.ensureUser(ctx, session.AuthUserID)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", session.AuthUserID, err)
	}

	if user.StripeCustomerID == "" {
		if err := s.users.LinkStripeCustomer(ctx, session.AuthUserID, session.StripeCustomerID); err != nil {
			return fmt.Errorf("link customer %s to user %s: %w", session.StripeCustomerID, session.AuthUserID, err)
		}
		log.Infof("checkout completed: user %s linked to customer %s", session.AuthUserID, session.StripeCustomerID)
	} else if user.StripeCustomerID != session.StripeCustomerID {
		log.Warnf("user %s already linked to customer %s, ignoring %s", session.AuthUserID, user.StripeCustomerID, session.StripeCustomerID)
	}
	return nil
}

// ensureUser provisions a local user from webhook metadata alone. The
// contact details are placeholders; the provisioning endpoint fills in the
// real ones when the user signs in.
func (s *Service) ensureUser(ctx context.Context, authUserID string) (*models.User, error) {
	email := fmt.Sprintf("user-%s@example.com", authUserID)
	return s.users.EnsureExists(ctx, authUserID, email, "User "+authUserID)
}

// handleSubscriptionUpserted mirrors a created or updated subscription into
// the local store. Keyed on the Stripe subscription id, so create and update
// deliveries arriving in either order converge on the same document.
func (s *Service) handleSubscriptionUpserted(ctx context.Context, data json.RawMessage) error {
	sub, err := ParseSubscription(data)
	if err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	// With a metadata auth id the owner is provisioned on the spot, like
	// checkout. Without one, the existing customer link is the only lead.
	var user *models.User
	if sub.AuthUserID != "" {
		user, err = s.ensureUser(ctx, sub.AuthUserID)
		if err != nil {
			return fmt.Errorf("ensure user %s: %w", sub.AuthUserID, err)
		}
	} else {
		user, err = s.resolveUser(ctx, "", sub.StripeCustomerID)
		if err != nil {
			return err
		}
	}

	record := &models.Subscription{
		UserID:               user.ID,
		AuthUserID:           user.AuthUserID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		StripeCustomerID:     sub.StripeCustomerID,
		PlanID:               sub.PlanID,
		Interval:             sub.Interval,
		Status:               sub.Status,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		TrialEnd:             sub.TrialEnd,
	}
	if sub.Price != nil {
		record.Plan = models.PlanSnapshot{
			PriceID:       sub.Price.PriceID,
			UnitAmount:    sub.Price.UnitAmount,
			Currency:      sub.Price.Currency,
			Interval:      sub.Price.Interval,
			IntervalCount: sub.Price.IntervalCount,
		}
	}

	if err := s.subs.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	log.Infof("subscription %s synced: user=%s status=%s", sub.StripeSubscriptionID, user.AuthUserID, sub.Status)
	return nil
}

// handleSubscriptionDeleted marks the local record cancelled. The document
// is kept for history.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, data json.RawMessage) error {
	sub, err := ParseSubscription(data)
	if err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	fields := map[string]interface{}{
		"status":               models.SubscriptionStatusCancelled,
		"cancel_at_period_end": true,
	}
	if err := s.subs.Update(ctx, sub.StripeSubscriptionID, fields); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			log.Warnf("subscription %s deleted upstream but unknown locally", sub.StripeSubscriptionID)
			return nil
		}
		return fmt.Errorf("cancel subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	log.Infof("subscription %s cancelled", sub.StripeSubscriptionID)
	return nil
}

// handlePaymentSucceeded records a paid invoice exactly once, keyed on the
// Stripe invoice id. Attribution goes through the owning subscription's
// metadata, falling back to a gateway lookup when the local record is
// missing (a paid invoice can land before the subscription sync).
func (s *Service) handlePaymentSucceeded(ctx context.Context, data json.RawMessage) error {
	inv, err := ParseInvoice(data)
	if err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	if inv.StripeSubscriptionID == "" {
		log.Debugf("invoice %s has no subscription, skipping", inv.StripeInvoiceID)
		return nil
	}

	user, err := s.userForSubscription(ctx, inv.StripeSubscriptionID)
	if err != nil {
		return err
	}

	payment := &models.Payment{
		UserID:               user.ID,
		AuthUserID:           user.AuthUserID,
		StripeInvoiceID:      inv.StripeInvoiceID,
		StripeSubscriptionID: inv.StripeSubscriptionID,
		Amount:               inv.AmountPaid,
		Currency:             inv.Currency,
		Status:               models.PaymentStatusSucceeded,
		PaidAt:               inv.PaidAt,
	}
	created, err := s.payments.CreateIfNotExists(ctx, payment)
	if err != nil {
		return fmt.Errorf("record payment for invoice %s: %w", inv.StripeInvoiceID, err)
	}
	if !created {
		log.Debugf("invoice %s already recorded", inv.StripeInvoiceID)
		return nil
	}

	// Successful renewal confirms the subscription is in good standing.
	fields := map[string]interface{}{"status": models.SubscriptionStatusActive}
	if err := s.subs.Update(ctx, inv.StripeSubscriptionID, fields); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("activate subscription %s: %w", inv.StripeSubscriptionID, err)
	}
	log.Infof("payment recorded: invoice=%s user=%s amount=%d %s", inv.StripeInvoiceID, user.AuthUserID, inv.AmountPaid, inv.Currency)
	return nil
}

// handlePaymentFailed moves the owning subscription to past_due.
func (s *Service) handlePaymentFailed(ctx context.Context, data json.RawMessage) error {
	inv, err := ParseInvoice(data)
	if err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	if inv.StripeSubscriptionID == "" {
		log.Debugf("failed invoice %s has no subscription, skipping", inv.StripeInvoiceID)
		return nil
	}

	fields := map[string]interface{}{"status": models.SubscriptionStatusPastDue}
	if err := s.subs.Update(ctx, inv.StripeSubscriptionID, fields); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			log.Warnf("payment failed for unknown subscription %s", inv.StripeSubscriptionID)
			return nil
		}
		return fmt.Errorf("flag subscription %s past due: %w", inv.StripeSubscriptionID, err)
	}
	log.Infof("subscription %s flagged past_due after failed invoice %s", inv.StripeSubscriptionID, inv.StripeInvoiceID)
	return nil
}

// resolveUser finds the local user for a subscription event, preferring the
// metadata auth id and falling back to the Stripe customer link.
func (s *Service) resolveUser(ctx context.Context, authUserID, customerID string) (*models.User, error) {
	if authUserID != "" {
		user, err := s.users.GetByAuthID(ctx, authUserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("look up user %s: %w", authUserID, err)
		}
	}
	if customerID != "" {
		user, err := s.users.GetByStripeCustomerID(ctx, customerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("look up customer %s: %w", customerID, err)
		}
	}
	return nil, fmt.Errorf("no local user for auth id %q / customer %q", authUserID, customerID)
}

// userForSubscription resolves the user owning a subscription, first from
// the local mirror, then from subscription metadata via the gateway.
func (s *Service) userForSubscription(ctx context.Context, stripeSubscriptionID string) (*models.User, error) {
	local, err := s.subs.GetByStripeID(ctx, stripeSubscriptionID)
	if err == nil {
		return s.resolveUser(ctx, local.AuthUserID, local.StripeCustomerID)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("look up subscription %s: %w", stripeSubscriptionID, err)
	}

	remote, err := s.gw.GetSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", stripeSubscriptionID, err)
	}
	customerID := ""
	if remote.Customer != nil {
		customerID = remote.Customer.ID
	}
	return s.resolveUser(ctx, remote.Metadata[MetadataKeyUserID], customerID)
}

// AccountOverview is the local account state returned to API readers.
type AccountOverview struct {
	User         *models.User
	Subscription *models.Subscription
	Payments     []models.Payment
}

// GetAccountOverview answers from local data only; no gateway calls.
func (s *Service) GetAccountOverview(ctx context.Context, authUserID string) (*AccountOverview, error) {
	user, err := s.users.GetByAuthID(ctx, authUserID)
	if err != nil {
		return nil, err
	}

	overview := &AccountOverview{User: user}

	sub, err := s.subs.GetActiveByAuthID(ctx, authUserID)
	if err == nil {
		overview.Subscription = sub
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	payments, err := s.payments.ListByAuthID(ctx, authUserID)
	if err != nil {
		return nil, err
	}
	overview.Payments = payments

	return overview, nil
}
