package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCancelled  = "cancelled"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusUnpaid     = "unpaid"
)

// EntitlingStatuses are the lifecycle states that still grant access.
var EntitlingStatuses = []string{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPastDue,
}

// PlanSnapshot is a denormalized copy of the Stripe price attached to a
// subscription, so reads never need a live gateway call.
type PlanSnapshot struct {
	PriceID       string `bson:"price_id" json:"price_id"`
	UnitAmount    int64  `bson:"unit_amount" json:"unit_amount"`
	Currency      string `bson:"currency" json:"currency"`
	Interval      string `bson:"interval" json:"interval"`
	IntervalCount int64  `bson:"interval_count" json:"interval_count"`
}

// Subscription mirrors one Stripe subscription. Exactly one document exists
// per StripeSubscriptionID; cancellation is a status transition, never a
// document removal.
type Subscription struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID               primitive.ObjectID `bson:"user_id" json:"user_id"`
	AuthUserID           string             `bson:"auth_user_id" json:"auth_user_id"`
	StripeSubscriptionID string             `bson:"stripe_subscription_id" json:"stripe_subscription_id"`
	StripeCustomerID     string             `bson:"stripe_customer_id" json:"stripe_customer_id"`
	PlanID               string             `bson:"plan_id" json:"plan_id"`
	Interval             string             `bson:"interval" json:"interval"`
	Status               string             `bson:"status" json:"status"`
	CurrentPeriodStart   time.Time          `bson:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `bson:"current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd    bool               `bson:"cancel_at_period_end" json:"cancel_at_period_end"`
	TrialEnd             *time.Time         `bson:"trial_end,omitempty" json:"trial_end,omitempty"`
	Plan                 PlanSnapshot       `bson:"plan" json:"plan"`
	CreatedAt            time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `bson:"updated_at" json:"updated_at"`
}
