package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/internal/pkg/database"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	col *mongo.Collection
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *mongo.Database) WebhookEventRepository {
	return &webhookEventRepository{col: db.Collection(database.CollectionWebhookEvents)}
}

// CreateIfNotExists stores the event keyed on its Stripe event id and
// reports whether this delivery was the first one seen.
func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	insert := bson.M{
		"stripe_event_id": event.StripeEventID,
		"event_type":      event.EventType,
		"payload_json":    event.PayloadJSON,
		"created_at":      time.Now(),
	}

	res, err := r.col.UpdateOne(ctx,
		bson.M{"stripe_event_id": event.StripeEventID},
		bson.M{"$setOnInsert": insert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, nil, err
	}

	var stored models.WebhookEvent
	if err := r.col.FindOne(ctx, bson.M{"stripe_event_id": event.StripeEventID}).Decode(&stored); err != nil {
		return false, nil, err
	}
	return res.UpsertedCount > 0, &stored, nil
}

// MarkProcessed records the processing outcome for an event. A non-empty
// processingError is the durable failed-event marker.
func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id primitive.ObjectID, processingError string) error {
	now := time.Now()
	update := bson.M{"$set": bson.M{
		"processed_at":     now,
		"processing_error": processingError,
	}}
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}
