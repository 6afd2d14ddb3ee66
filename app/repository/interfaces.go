package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowkitio/flowkit/app/models"
)

// UserRepository defines the interface for user-related store operations.
// Lookups return mongo.ErrNoDocuments when nothing matches.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByAuthID(ctx context.Context, authUserID string) (*models.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	// Update merges fields into the matching user and refreshes updated_at.
	// Returns mongo.ErrNoDocuments when no user matches, never a silent no-op.
	Update(ctx context.Context, authUserID string, fields map[string]interface{}) error
	// EnsureExists returns the existing user or atomically creates one. Safe
	// under concurrent first-requests for the same auth subject.
	EnsureExists(ctx context.Context, authUserID, email, name string) (*models.User, error)
	LinkStripeCustomer(ctx context.Context, authUserID, customerID string) error
}

// SubscriptionRepository defines the interface for subscription store
// operations. All writes key on the Stripe subscription id.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	// GetActiveByAuthID returns the user's subscription whose status still
	// grants access (active, trialing or past_due).
	GetActiveByAuthID(ctx context.Context, authUserID string) (*models.Subscription, error)
	Update(ctx context.Context, stripeSubscriptionID string, fields map[string]interface{}) error
	// Upsert creates or replaces the subscription keyed on its Stripe id so
	// duplicate deliveries never create a second document.
	Upsert(ctx context.Context, sub *models.Subscription) error
}

// PaymentRepository defines the interface for payment store operations.
type PaymentRepository interface {
	// CreateIfNotExists inserts the payment unless one with the same Stripe
	// invoice id already exists. Reports whether a document was created.
	CreateIfNotExists(ctx context.Context, payment *models.Payment) (bool, error)
	ListByAuthID(ctx context.Context, authUserID string) ([]models.Payment, error)
}

// WorkflowExecutionRepository appends generative execution audit records.
type WorkflowExecutionRepository interface {
	Create(ctx context.Context, exec *models.WorkflowExecution) error
}

// WebhookEventRepository stores verified webhook deliveries for
// deduplication and failure inspection.
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id primitive.ObjectID, processingError string) error
}

// Repositories bundles all repository instances.
type Repositories struct {
	User              UserRepository
	Subscription      SubscriptionRepository
	Payment           PaymentRepository
	WorkflowExecution WorkflowExecutionRepository
	WebhookEvent      WebhookEventRepository
}

// NewRepositories creates all repositories backed by the given database.
func NewRepositories(db *mongo.Database) *Repositories {
	return &Repositories{
		User:              NewUserRepository(db),
		Subscription:      NewSubscriptionRepository(db),
		Payment:           NewPaymentRepository(db),
		WorkflowExecution: NewWorkflowExecutionRepository(db),
		WebhookEvent:      NewWebhookEventRepository(db),
	}
}
