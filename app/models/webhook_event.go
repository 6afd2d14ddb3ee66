package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WebhookEvent stores verified Stripe webhook deliveries with deduplication
// and a durable processing-failure marker, so handler failures are
// inspectable and replayable instead of silently lost.
type WebhookEvent struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StripeEventID   string             `bson:"stripe_event_id" json:"stripe_event_id"`
	EventType       string             `bson:"event_type" json:"event_type"`
	PayloadJSON     string             `bson:"payload_json" json:"payload_json"`
	ProcessedAt     *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	ProcessingError string             `bson:"processing_error,omitempty" json:"processing_error,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
}
