package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const PaymentStatusSucceeded = "succeeded"

// Payment records one paid Stripe invoice. Exactly one document exists per
// StripeInvoiceID regardless of how often the webhook is delivered; documents
// are never mutated after creation.
type Payment struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID               primitive.ObjectID `bson:"user_id" json:"user_id"`
	AuthUserID           string             `bson:"auth_user_id" json:"auth_user_id"`
	StripeInvoiceID      string             `bson:"stripe_invoice_id" json:"stripe_invoice_id"`
	StripeSubscriptionID string             `bson:"stripe_subscription_id" json:"stripe_subscription_id"`
	Amount               int64              `bson:"amount" json:"amount"`
	Currency             string             `bson:"currency" json:"currency"`
	Status               string             `bson:"status" json:"status"`
	PaidAt               *time.Time         `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	CreatedAt            time.Time          `bson:"created_at" json:"created_at"`
}
