package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/internal/pkg/database"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	col *mongo.Collection
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *mongo.Database) PaymentRepository {
	return &paymentRepository{col: db.Collection(database.CollectionPayments)}
}

// CreateIfNotExists inserts the payment keyed on its Stripe invoice id.
// Duplicate webhook deliveries for the same invoice leave the existing
// document untouched.
func (r *paymentRepository) CreateIfNotExists(ctx context.Context, payment *models.Payment) (bool, error) {
	payment.CreatedAt = time.Now()

	insert := bson.M{
		"user_id":                payment.UserID,
		"auth_user_id":           payment.AuthUserID,
		"stripe_invoice_id":      payment.StripeInvoiceID,
		"stripe_subscription_id": payment.StripeSubscriptionID,
		"amount":                 payment.Amount,
		"currency":               payment.Currency,
		"status":                 payment.Status,
		"created_at":             payment.CreatedAt,
	}
	if payment.PaidAt != nil {
		insert["paid_at"] = payment.PaidAt
	}

	res, err := r.col.UpdateOne(ctx,
		bson.M{"stripe_invoice_id": payment.StripeInvoiceID},
		bson.M{"$setOnInsert": insert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

// ListByAuthID returns all payments for a user, newest first.
func (r *paymentRepository) ListByAuthID(ctx context.Context, authUserID string) ([]models.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"auth_user_id": authUserID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var payments []models.Payment
	if err := cur.All(ctx, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}
