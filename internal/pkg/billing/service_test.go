package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/app/repository"
)

type fakeUserRepo struct {
	byAuthID   map[string]*models.User
	byCustomer map[string]*models.User
	linked     map[string]string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byAuthID:   map[string]*models.User{},
		byCustomer: map[string]*models.User{},
		linked:     map[string]string{},
	}
}

func (f *fakeUserRepo) add(user *models.User) {
	f.byAuthID[user.AuthUserID] = user
	if user.StripeCustomerID != "" {
		f.byCustomer[user.StripeCustomerID] = user
	}
}

func (f *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	f.add(user)
	return nil
}

func (f *fakeUserRepo) GetByAuthID(_ context.Context, authUserID string) (*models.User, error) {
	if u, ok := f.byAuthID[authUserID]; ok {
		return u, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeUserRepo) GetByStripeCustomerID(_ context.Context, customerID string) (*models.User, error) {
	if u, ok := f.byCustomer[customerID]; ok {
		return u, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeUserRepo) Update(_ context.Context, authUserID string, _ map[string]interface{}) error {
	if _, ok := f.byAuthID[authUserID]; !ok {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (f *fakeUserRepo) EnsureExists(_ context.Context, authUserID, email, name string) (*models.User, error) {
	if u, ok := f.byAuthID[authUserID]; ok {
		return u, nil
	}
	u := &models.User{ID: primitive.NewObjectID(), AuthUserID: authUserID, Email: email, Name: name}
	f.add(u)
	return u, nil
}

func (f *fakeUserRepo) LinkStripeCustomer(_ context.Context, authUserID, customerID string) error {
	u, ok := f.byAuthID[authUserID]
	if !ok {
		return mongo.ErrNoDocuments
	}
	u.StripeCustomerID = customerID
	f.byCustomer[customerID] = u
	f.linked[authUserID] = customerID
	return nil
}

type fakeSubRepo struct {
	byStripeID map[string]*models.Subscription
	upserts    int
	updates    map[string]map[string]interface{}
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{
		byStripeID: map[string]*models.Subscription{},
		updates:    map[string]map[string]interface{}{},
	}
}

func (f *fakeSubRepo) Create(_ context.Context, sub *models.Subscription) error {
	f.byStripeID[sub.StripeSubscriptionID] = sub
	return nil
}

func (f *fakeSubRepo) GetByStripeID(_ context.Context, id string) (*models.Subscription, error) {
	if s, ok := f.byStripeID[id]; ok {
		return s, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeSubRepo) GetActiveByAuthID(_ context.Context, authUserID string) (*models.Subscription, error) {
	for _, s := range f.byStripeID {
		if s.AuthUserID == authUserID && IsEntitlingStatus(s.Status) {
			return s, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeSubRepo) Update(_ context.Context, id string, fields map[string]interface{}) error {
	s, ok := f.byStripeID[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	f.updates[id] = fields
	if status, ok := fields["status"].(string); ok {
		s.Status = status
	}
	return nil
}

// Upsert mirrors the repository contract: plan fields are kept from the
// existing document when the incoming record does not carry them.
func (f *fakeSubRepo) Upsert(_ context.Context, sub *models.Subscription) error {
	f.upserts++
	if existing, ok := f.byStripeID[sub.StripeSubscriptionID]; ok {
		if sub.PlanID == "" {
			sub.PlanID = existing.PlanID
		}
		if sub.Plan == (models.PlanSnapshot{}) {
			sub.Plan = existing.Plan
		}
	}
	f.byStripeID[sub.StripeSubscriptionID] = sub
	return nil
}

type fakePaymentRepo struct {
	byInvoiceID map[string]*models.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byInvoiceID: map[string]*models.Payment{}}
}

func (f *fakePaymentRepo) CreateIfNotExists(_ context.Context, payment *models.Payment) (bool, error) {
	if _, ok := f.byInvoiceID[payment.StripeInvoiceID]; ok {
		return false, nil
	}
	f.byInvoiceID[payment.StripeInvoiceID] = payment
	return true, nil
}

func (f *fakePaymentRepo) ListByAuthID(_ context.Context, authUserID string) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range f.byInvoiceID {
		if p.AuthUserID == authUserID {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	seen      map[string]*models.WebhookEvent
	processed map[string]string
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{seen: map[string]*models.WebhookEvent{}, processed: map[string]string{}}
}

func (f *fakeEventRepo) CreateIfNotExists(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if existing, ok := f.seen[event.StripeEventID]; ok {
		return false, existing, nil
	}
	event.ID = primitive.NewObjectID()
	f.seen[event.StripeEventID] = event
	return true, event, nil
}

func (f *fakeEventRepo) MarkProcessed(_ context.Context, id primitive.ObjectID, processingError string) error {
	f.processed[id.Hex()] = processingError
	return nil
}

type fakeGateway struct {
	Gateway
	subscriptions map[string]*stripe.Subscription
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if s, ok := f.subscriptions[id]; ok {
		return s, nil
	}
	return nil, &stripe.Error{Msg: "no such subscription"}
}

func newTestService() (*Service, *fakeUserRepo, *fakeSubRepo, *fakePaymentRepo, *fakeEventRepo) {
	users := newFakeUserRepo()
	subs := newFakeSubRepo()
	payments := newFakePaymentRepo()
	events := newFakeEventRepo()
	repos := &repository.Repositories{
		User:         users,
		Subscription: subs,
		Payment:      payments,
		WebhookEvent: events,
	}
	svc := NewService(repos, &fakeGateway{subscriptions: map[string]*stripe.Subscription{}})
	return svc, users, subs, payments, events
}

func TestRecordEventDeduplicates(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	first, stored, err := svc.RecordEvent(ctx, "evt_1", EventPaymentSucceeded, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, first)
	require.NotNil(t, stored)

	again, _, err := svc.RecordEvent(ctx, "evt_1", EventPaymentSucceeded, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, again)
}

func TestCheckoutCompletedLinksCustomer(t *testing.T) {
	svc, users, _, _, _ := newTestService()
	ctx := context.Background()
	users.add(&models.User{ID: primitive.NewObjectID(), AuthUserID: "auth0|u1", Email: "u1@example.com"})

	payload := json.RawMessage(`{"id":"cs_1","customer":"cus_1","metadata":{"userId":"auth0|u1"}}`)
	err := svc.ProcessEvent(ctx, &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventCheckoutCompleted}, payload)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", users.linked["auth0|u1"])
}

func TestCheckoutCompletedProvisionsUnknownUser(t *testing.T) {
	svc, users, _, _, _ := newTestService()
	ctx := context.Background()

	// No local user yet: the webhook may be the very first contact.
	payload := json.RawMessage(`{"id":"cs_1","customer":"cus_1","metadata":{"userId":"auth0|new"}}`)
	err := svc.ProcessEvent(ctx, &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventCheckoutCompleted}, payload)
	require.NoError(t, err)

	user, err := users.GetByAuthID(ctx, "auth0|new")
	require.NoError(t, err)
	assert.Equal(t, "user-auth0|new@example.com", user.Email)
	assert.Equal(t, "cus_1", users.linked["auth0|new"])
}

func TestCheckoutCompletedKeepsExistingCustomerLink(t *testing.T) {
	svc, users, _, _, _ := newTestService()
	ctx := context.Background()
	users.add(&models.User{ID: primitive.NewObjectID(), AuthUserID: "auth0|u1", StripeCustomerID: "cus_old"})

	payload := json.RawMessage(`{"id":"cs_2","customer":"cus_new","metadata":{"userId":"auth0|u1"}}`)
	err := svc.ProcessEvent(ctx, &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventCheckoutCompleted}, payload)
	require.NoError(t, err)

	// The first link wins; a later checkout never rewrites it.
	assert.Equal(t, "cus_old", users.byAuthID["auth0|u1"].StripeCustomerID)
	assert.Empty(t, users.linked["auth0|u1"])
}

func TestCheckoutCompletedWithoutMetadataFails(t *testing.T) {
	svc, _, _, _, events := newTestService()
	ctx := context.Background()

	stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventCheckoutCompleted}
	err := svc.ProcessEvent(ctx, stored, json.RawMessage(`{"id":"cs_1","customer":"cus_1"}`))
	require.Error(t, err)
	// The failure is recorded durably on the event.
	assert.NotEmpty(t, events.processed[stored.ID.Hex()])
}

func TestSubscriptionCreatedAndUpdatedConverge(t *testing.T) {
	svc, users, subs, _, _ := newTestService()
	ctx := context.Background()
	users.add(&models.User{ID: primitive.NewObjectID(), AuthUserID: "auth0|u1"})

	payload := json.RawMessage(`{
		"id": "sub_1", "customer": "cus_1", "status": "trialing",
		"metadata": {"userId": "auth0|u1", "planId": "pro", "interval": "month"},
		"items": {"data": [{
			"current_period_start": 1754006400, "current_period_end": 1756771200,
			"price": {"id": "price_1", "unit_amount": 1900, "currency": "usd",
				"recurring": {"interval": "month", "interval_count": 1}}
		}]}
	}`)

	created := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventSubscriptionCreated}
	require.NoError(t, svc.ProcessEvent(ctx, created, payload))

	updated := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventSubscriptionUpdated}
	require.NoError(t, svc.ProcessEvent(ctx, updated, payload))

	// Two deliveries, one document.
	assert.Equal(t, 2, subs.upserts)
	assert.Len(t, subs.byStripeID, 1)
	record := subs.byStripeID["sub_1"]
	require.NotNil(t, record)
	assert.Equal(t, "auth0|u1", record.AuthUserID)
	assert.Equal(t, "pro", record.PlanID)
	assert.Equal(t, "trialing", record.Status)
	assert.Equal(t, "price_1", record.Plan.PriceID)
}

func TestSubscriptionCreatedProvisionsUnknownUser(t *testing.T) {
	svc, users, subs, _, _ := newTestService()
	ctx := context.Background()

	payload := json.RawMessage(`{
		"id": "sub_9", "customer": "cus_9", "status": "trialing",
		"metadata": {"userId": "auth0|new", "planId": "pro", "interval": "month"},
		"items": {"data": [{
			"current_period_start": 1754006400, "current_period_end": 1756771200,
			"price": {"id": "price_1", "unit_amount": 1900, "currency": "usd",
				"recurring": {"interval": "month", "interval_count": 1}}
		}]}
	}`)
	stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventSubscriptionCreated}
	require.NoError(t, svc.ProcessEvent(ctx, stored, payload))

	user, err := users.GetByAuthID(ctx, "auth0|new")
	require.NoError(t, err)
	assert.Equal(t, "User auth0|new", user.Name)

	record := subs.byStripeID["sub_9"]
	require.NotNil(t, record)
	assert.Equal(t, "auth0|new", record.AuthUserID)
	assert.Equal(t, user.ID, record.UserID)
}

func TestSubscriptionUpdateWithoutItemsKeepsPlanSnapshot(t *testing.T) {
	svc, users, subs, _, _ := newTestService()
	ctx := context.Background()
	users.add(&models.User{ID: primitive.NewObjectID(), AuthUserID: "auth0|u1", StripeCustomerID: "cus_1"})

	created := json.RawMessage(`{
		"id": "sub_1", "customer": "cus_1", "status": "trialing",
		"metadata": {"userId": "auth0|u1", "planId": "pro", "interval": "month"},
		"items": {"data": [{
			"current_period_start": 1754006400, "current_period_end": 1756771200,
			"price": {"id": "price_1", "unit_amount": 1900, "currency": "usd",
				"recurring": {"interval": "month", "interval_count": 1}}
		}]}
	}`)
	stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventSubscriptionCreated}
	require.NoError(t, svc.ProcessEvent(ctx, stored, created))

	// Status-only update without metadata or line items.
	updated := json.RawMessage(`{
		"id": "sub_1", "customer": "cus_1", "status": "active",
		"current_period_start": 1756771200, "current_period_end": 1759449600
	}`)
	stored = &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventSubscriptionUpdated}
	require.NoError(t, svc.ProcessEvent(ctx, stored, updated))

	record := subs.byStripeID["sub_1"]
	require.NotNil(t, record)
	assert.Equal(t, "active", record.Status)
	assert.Equal(t, "pro", record.PlanID)
	assert.Equal(t, "price_1", record.Plan.PriceID)
	assert.Equal(t, int64(1900), record.Plan.UnitAmount)
}

func TestSubscriptionDeletedMarksCancelled(t *testing.T) {
	svc, _, subs, _, _ := newTestService()
	ctx := context.Background()
	subs.byStripeID["sub_1"] = &models.Subscription{
		StripeSubscriptionID: "sub_1",
		AuthUserID:           "auth0|u1",
		Status:               models.SubscriptionStatusActive,
	}

	payload := json.RawMessage(`{"id": "sub_1", "customer": "cus_1", "status": "canceled"}`)
	stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventSubscriptionDeleted}
	require.NoError(t, svc.ProcessEvent(ctx, stored, payload))

	assert.Equal(t, models.SubscriptionStatusCancelled, subs.byStripeID["sub_1"].Status)
	// The record stays around for history.
	assert.Len(t, subs.byStripeID, 1)
}

func TestSubscriptionDeletedUnknownLocallyIsTolerated(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	payload := json.RawMessage(`{"id": "sub_ghost", "status": "canceled"}`)
	stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventSubscriptionDeleted}
	assert.NoError(t, svc.ProcessEvent(ctx, stored, payload))
}

func TestPaymentSucceededIsIdempotent(t *testing.T) {
	svc, users, subs, payments, _ := newTestService()
	ctx := context.Background()
	user := &models.User{ID: primitive.NewObjectID(), AuthUserID: "auth0|u1", StripeCustomerID: "cus_1"}
	users.add(user)
	subs.byStripeID["sub_1"] = &models.Subscription{
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		AuthUserID:           "auth0|u1",
		Status:               models.SubscriptionStatusTrialing,
	}

	payload := json.RawMessage(`{
		"id": "in_1", "subscription": "sub_1", "amount_paid": 1900, "currency": "usd",
		"status_transitions": {"paid_at": 1754006400}
	}`)

	for i := 0; i < 2; i++ {
		stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventPaymentSucceeded}
		require.NoError(t, svc.ProcessEvent(ctx, stored, payload))
	}

	// Duplicate delivery, one payment document.
	assert.Len(t, payments.byInvoiceID, 1)
	payment := payments.byInvoiceID["in_1"]
	require.NotNil(t, payment)
	assert.Equal(t, "auth0|u1", payment.AuthUserID)
	assert.Equal(t, int64(1900), payment.Amount)
	assert.Equal(t, models.SubscriptionStatusActive, subs.byStripeID["sub_1"].Status)
}

func TestPaymentFailedFlagsPastDue(t *testing.T) {
	svc, _, subs, _, _ := newTestService()
	ctx := context.Background()
	subs.byStripeID["sub_1"] = &models.Subscription{
		StripeSubscriptionID: "sub_1",
		AuthUserID:           "auth0|u1",
		Status:               models.SubscriptionStatusActive,
	}

	payload := json.RawMessage(`{"id": "in_2", "subscription": "sub_1", "currency": "usd"}`)
	stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: EventPaymentFailed}
	require.NoError(t, svc.ProcessEvent(ctx, stored, payload))

	assert.Equal(t, models.SubscriptionStatusPastDue, subs.byStripeID["sub_1"].Status)
}

func TestUnhandledEventTypeIsAcknowledged(t *testing.T) {
	svc, _, _, _, events := newTestService()
	ctx := context.Background()

	stored := &models.WebhookEvent{ID: primitive.NewObjectID(), EventType: "customer.created"}
	require.NoError(t, svc.ProcessEvent(ctx, stored, json.RawMessage(`{}`)))
	// Processed with no error recorded.
	errText, ok := events.processed[stored.ID.Hex()]
	assert.True(t, ok)
	assert.Empty(t, errText)
}

func TestGetAccountOverview(t *testing.T) {
	svc, users, subs, payments, _ := newTestService()
	ctx := context.Background()
	user := &models.User{ID: primitive.NewObjectID(), AuthUserID: "auth0|u1", Email: "u1@example.com"}
	users.add(user)
	subs.byStripeID["sub_1"] = &models.Subscription{
		StripeSubscriptionID: "sub_1",
		AuthUserID:           "auth0|u1",
		Status:               models.SubscriptionStatusActive,
	}
	payments.byInvoiceID["in_1"] = &models.Payment{AuthUserID: "auth0|u1", StripeInvoiceID: "in_1", Amount: 1900}

	overview, err := svc.GetAccountOverview(ctx, "auth0|u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", overview.User.Email)
	require.NotNil(t, overview.Subscription)
	assert.Equal(t, "sub_1", overview.Subscription.StripeSubscriptionID)
	assert.Len(t, overview.Payments, 1)
}

func TestGetAccountOverviewUnknownUser(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.GetAccountOverview(context.Background(), "auth0|ghost")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}
