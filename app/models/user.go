package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User links an external auth subject to an optional Stripe customer.
// The auth provider owns identity; we only mirror what billing needs.
type User struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AuthUserID       string             `bson:"auth_user_id" json:"auth_user_id" validate:"required"`
	Email            string             `bson:"email" json:"email" validate:"required,email"`
	Name             string             `bson:"name,omitempty" json:"name,omitempty"`
	StripeCustomerID string             `bson:"stripe_customer_id,omitempty" json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}
