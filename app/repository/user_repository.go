package repository

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/internal/pkg/database"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	col *mongo.Collection
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *mongo.Database) UserRepository {
	return &userRepository{col: db.Collection(database.CollectionUsers)}
}

// Create inserts a new user with fresh timestamps. Uniqueness of the auth
// subject id is enforced by the collection index, not checked here.
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	res, err := r.col.InsertOne(ctx, user)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.ID = oid
	}
	return nil
}

// GetByAuthID retrieves a user by their external auth subject id
func (r *userRepository) GetByAuthID(ctx context.Context, authUserID string) (*models.User, error) {
	var user models.User
	err := r.col.FindOne(ctx, bson.M{"auth_user_id": authUserID}).Decode(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByStripeCustomerID retrieves a user by their Stripe customer id
func (r *userRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	var user models.User
	err := r.col.FindOne(ctx, bson.M{"stripe_customer_id": customerID}).Decode(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update merges fields into the matching user and refreshes updated_at.
func (r *userRepository) Update(ctx context.Context, authUserID string, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[k] = v
	}

	res, err := r.col.UpdateOne(ctx, bson.M{"auth_user_id": authUserID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// EnsureExists returns the existing user or atomically creates one. The
// upsert keys on auth_user_id so two concurrent first-requests resolve to
// the same single document.
func (r *userRepository) EnsureExists(ctx context.Context, authUserID, email, name string) (*models.User, error) {
	now := time.Now()
	insert := bson.M{
		"auth_user_id": authUserID,
		"email":        strings.TrimSpace(email),
		"created_at":   now,
		"updated_at":   now,
	}
	if name = strings.TrimSpace(name); name != "" {
		insert["name"] = name
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user models.User
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"auth_user_id": authUserID},
		bson.M{"$setOnInsert": insert},
		opts,
	).Decode(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// LinkStripeCustomer attaches a Stripe customer id to the user record.
func (r *userRepository) LinkStripeCustomer(ctx context.Context, authUserID, customerID string) error {
	return r.Update(ctx, authUserID, map[string]interface{}{"stripe_customer_id": customerID})
}
