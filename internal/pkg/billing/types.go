package billing

import "time"

// Stripe metadata keys attached to checkout sessions and subscriptions at
// creation time. The webhook handlers depend entirely on these to attribute
// events back to a local user.
const (
	MetadataKeyUserID   = "userId"
	MetadataKeyPlanID   = "planId"
	MetadataKeyInterval = "interval"
)

// CheckoutSessionData is the normalized shape of a completed checkout
// session as delivered by the webhook stream.
type CheckoutSessionData struct {
	SessionID        string
	StripeCustomerID string
	AuthUserID       string
	PlanID           string
	Interval         string
}

// PlanPrice is the price attached to a subscription's first line item,
// denormalized onto the local subscription record.
type PlanPrice struct {
	PriceID       string
	UnitAmount    int64
	Currency      string
	Interval      string
	IntervalCount int64
}

// SubscriptionData is the normalized shape of a Stripe subscription event.
type SubscriptionData struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	AuthUserID           string
	PlanID               string
	Interval             string
	Status               string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	TrialEnd             *time.Time
	Price                *PlanPrice
}

// InvoiceData is the normalized shape of a Stripe invoice event.
type InvoiceData struct {
	StripeInvoiceID      string
	StripeSubscriptionID string
	AmountPaid           int64
	Currency             string
	PaidAt               *time.Time
}

// CheckoutParams carries everything needed to open a hosted checkout.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	AuthUserID string
	PlanID     string
	Interval   string
	SuccessURL string
	CancelURL  string
}
