package billing

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

const trialPeriodDays = 14

// Gateway translates local billing concepts into calls against the Stripe
// API. Controllers and the webhook service depend on this interface so
// tests can substitute a fake.
type Gateway interface {
	GetOrCreateCustomer(ctx context.Context, email, authUserID string) (*stripe.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ChangeSubscriptionPlan(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error)
}

// stripeGateway implements Gateway against the real Stripe API.
type stripeGateway struct{}

// NewStripeGateway configures the Stripe SDK key and returns the gateway.
func NewStripeGateway(apiKey string) Gateway {
	stripe.Key = apiKey
	return &stripeGateway{}
}

// IsGatewayError reports whether err is a Stripe API error whose message is
// safe to surface to the client (mapped to a 400 by the controllers).
func IsGatewayError(err error) (string, bool) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Msg, true
	}
	return "", false
}

// FindCustomerByEmail returns the first Stripe customer matching the email,
// or nil when none exists. Stripe does not enforce unique emails; the first
// match wins.
func (g *stripeGateway) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// GetOrCreateCustomer looks up a customer by email and creates one when
// absent, tagging it with the local auth subject id for reverse lookup.
func (g *stripeGateway) GetOrCreateCustomer(ctx context.Context, email, authUserID string) (*stripe.Customer, error) {
	existing, err := g.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Metadata[MetadataKeyUserID] != authUserID {
			params := &stripe.CustomerParams{}
			params.Context = ctx
			params.AddMetadata(MetadataKeyUserID, authUserID)
			return customer.Update(existing.ID, params)
		}
		return existing, nil
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata(MetadataKeyUserID, authUserID)
	return customer.New(params)
}

// CreateCheckoutSession opens a hosted subscription checkout. The auth
// subject, plan and interval ride along as metadata on both the session and
// the subscription it creates; webhook attribution depends on them.
func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*stripe.CheckoutSession, error) {
	metadata := map[string]string{
		MetadataKeyUserID:   p.AuthUserID,
		MetadataKeyPlanID:   p.PlanID,
		MetadataKeyInterval: p.Interval,
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata:        metadata,
			TrialPeriodDays: stripe.Int64(trialPeriodDays),
		},
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		TaxIDCollection: &stripe.CheckoutSessionTaxIDCollectionParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
		params.CustomerUpdate = &stripe.CheckoutSessionCustomerUpdateParams{
			Address: stripe.String("auto"),
			Name:    stripe.String("auto"),
		}
	}

	return checkoutsession.New(params)
}

// CreatePortalSession opens a hosted self-service billing portal session.
func (g *stripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	return portalsession.New(params)
}

// GetSubscription fetches a subscription, used by the invoice handler to
// recover the auth subject from subscription metadata.
func (g *stripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(subscriptionID, params)
}

// CancelSubscription schedules cancellation at period end.
func (g *stripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	return subscription.Update(subscriptionID, params)
}

// ReactivateSubscription clears a pending period-end cancellation.
func (g *stripeGateway) ReactivateSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	return subscription.Update(subscriptionID, params)
}

// ChangeSubscriptionPlan swaps the subscription's single item onto a new
// price with prorations.
func (g *stripeGateway) ChangeSubscriptionPlan(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error) {
	current, err := g.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, errors.New("no subscription item found")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	return subscription.Update(subscriptionID, params)
}
