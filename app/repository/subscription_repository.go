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

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	col *mongo.Collection
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *mongo.Database) SubscriptionRepository {
	return &subscriptionRepository{col: db.Collection(database.CollectionSubscriptions)}
}

// Create inserts a new subscription with fresh timestamps.
func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	res, err := r.col.InsertOne(ctx, sub)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		sub.ID = oid
	}
	return nil
}

// GetByStripeID retrieves a subscription by its Stripe subscription id
func (r *subscriptionRepository) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.col.FindOne(ctx, bson.M{"stripe_subscription_id": stripeSubscriptionID}).Decode(&sub)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetActiveByAuthID returns the user's subscription in an entitling status.
func (r *subscriptionRepository) GetActiveByAuthID(ctx context.Context, authUserID string) (*models.Subscription, error) {
	var sub models.Subscription
	filter := bson.M{
		"auth_user_id": authUserID,
		"status":       bson.M{"$in": models.EntitlingStatuses},
	}
	err := r.col.FindOne(ctx, filter).Decode(&sub)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Update merges fields into the matching subscription and refreshes
// updated_at. Returns mongo.ErrNoDocuments when no subscription matches.
func (r *subscriptionRepository) Update(ctx context.Context, stripeSubscriptionID string, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[k] = v
	}

	res, err := r.col.UpdateOne(ctx, bson.M{"stripe_subscription_id": stripeSubscriptionID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Upsert creates or refreshes the subscription keyed on its Stripe id, so
// replayed subscription-created events never produce a second document.
// Plan fields are only written when the incoming record carries them, so an
// update delivered without line items cannot blank an earlier snapshot.
func (r *subscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	now := time.Now()
	set := bson.M{
		"user_id":              sub.UserID,
		"auth_user_id":         sub.AuthUserID,
		"stripe_customer_id":   sub.StripeCustomerID,
		"interval":             sub.Interval,
		"status":               sub.Status,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"updated_at":           now,
	}
	if sub.PlanID != "" {
		set["plan_id"] = sub.PlanID
	}
	if sub.Plan != (models.PlanSnapshot{}) {
		set["plan"] = sub.Plan
	}
	if sub.TrialEnd != nil {
		set["trial_end"] = sub.TrialEnd
	}

	filter := bson.M{"stripe_subscription_id": sub.StripeSubscriptionID}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}
