package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/app/repository"
	"github.com/flowkitio/flowkit/internal/pkg/billing"
	"github.com/flowkitio/flowkit/internal/pkg/middleware"
	"github.com/flowkitio/flowkit/internal/pkg/router"
	"github.com/flowkitio/flowkit/internal/pkg/workflow"
)

type fakeUserRepo struct {
	byAuthID   map[string]*models.User
	byCustomer map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byAuthID: map[string]*models.User{}, byCustomer: map[string]*models.User{}}
}

func (f *fakeUserRepo) add(u *models.User) {
	f.byAuthID[u.AuthUserID] = u
	if u.StripeCustomerID != "" {
		f.byCustomer[u.StripeCustomerID] = u
	}
}

func (f *fakeUserRepo) Create(_ context.Context, u *models.User) error {
	f.add(u)
	return nil
}

func (f *fakeUserRepo) GetByAuthID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f.byAuthID[id]; ok {
		return u, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeUserRepo) GetByStripeCustomerID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f.byCustomer[id]; ok {
		return u, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeUserRepo) Update(_ context.Context, id string, _ map[string]interface{}) error {
	if _, ok := f.byAuthID[id]; !ok {
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
	return nil
}

type fakeSubRepo struct {
	byStripeID map[string]*models.Subscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{byStripeID: map[string]*models.Subscription{}}
}

func (f *fakeSubRepo) Create(_ context.Context, s *models.Subscription) error {
	f.byStripeID[s.StripeSubscriptionID] = s
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
		if s.AuthUserID == authUserID && billing.IsEntitlingStatus(s.Status) {
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
	if status, ok := fields["status"].(string); ok {
		s.Status = status
	}
	return nil
}

// Upsert mirrors the repository contract: plan fields survive an upsert
// that does not carry them.
func (f *fakeSubRepo) Upsert(_ context.Context, s *models.Subscription) error {
	if existing, ok := f.byStripeID[s.StripeSubscriptionID]; ok {
		if s.PlanID == "" {
			s.PlanID = existing.PlanID
		}
		if s.Plan == (models.PlanSnapshot{}) {
			s.Plan = existing.Plan
		}
	}
	f.byStripeID[s.StripeSubscriptionID] = s
	return nil
}

type fakePaymentRepo struct {
	byInvoiceID map[string]*models.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byInvoiceID: map[string]*models.Payment{}}
}

func (f *fakePaymentRepo) CreateIfNotExists(_ context.Context, p *models.Payment) (bool, error) {
	if _, ok := f.byInvoiceID[p.StripeInvoiceID]; ok {
		return false, nil
	}
	f.byInvoiceID[p.StripeInvoiceID] = p
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

type fakeExecutionRepo struct {
	records []*models.WorkflowExecution
}

func (f *fakeExecutionRepo) Create(_ context.Context, e *models.WorkflowExecution) error {
	f.records = append(f.records, e)
	return nil
}

type fakeEventRepo struct {
	seen      map[string]*models.WebhookEvent
	processed map[string]string
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{seen: map[string]*models.WebhookEvent{}, processed: map[string]string{}}
}

func (f *fakeEventRepo) CreateIfNotExists(_ context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if existing, ok := f.seen[e.StripeEventID]; ok {
		return false, existing, nil
	}
	e.ID = primitive.NewObjectID()
	f.seen[e.StripeEventID] = e
	return true, e, nil
}

func (f *fakeEventRepo) MarkProcessed(_ context.Context, id primitive.ObjectID, processingError string) error {
	f.processed[id.Hex()] = processingError
	return nil
}

// fakeGateway counts calls so tests can assert that unverified webhook
// deliveries never reach billing logic.
type fakeGateway struct {
	calls           int
	lastCheckout    billing.CheckoutParams
	checkoutSession *stripe.CheckoutSession
	portalURL       string
	customersByMail map[string]*stripe.Customer
	err             error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		checkoutSession: &stripe.CheckoutSession{
			ID:       "cs_test_1",
			URL:      "https://checkout.stripe.test/cs_test_1",
			Customer: &stripe.Customer{ID: "cus_new"},
		},
		portalURL:       "https://billing.stripe.test/portal_1",
		customersByMail: map[string]*stripe.Customer{},
	}
}

func (f *fakeGateway) GetOrCreateCustomer(_ context.Context, email, _ string) (*stripe.Customer, error) {
	f.calls++
	if c, ok := f.customersByMail[email]; ok {
		return c, nil
	}
	return &stripe.Customer{ID: "cus_new", Email: email}, f.err
}

func (f *fakeGateway) FindCustomerByEmail(_ context.Context, email string) (*stripe.Customer, error) {
	f.calls++
	return f.customersByMail[email], f.err
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (*stripe.CheckoutSession, error) {
	f.calls++
	f.lastCheckout = p
	if f.err != nil {
		return nil, f.err
	}
	session := *f.checkoutSession
	if p.CustomerID != "" {
		session.Customer = &stripe.Customer{ID: p.CustomerID}
	}
	return &session, nil
}

func (f *fakeGateway) CreatePortalSession(_ context.Context, _, _ string) (*stripe.BillingPortalSession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.BillingPortalSession{URL: f.portalURL}, nil
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.calls++
	return nil, &stripe.Error{Msg: "no such subscription: " + id}
}

func (f *fakeGateway) CancelSubscription(_ context.Context, _ string) (*stripe.Subscription, error) {
	f.calls++
	return nil, f.err
}

func (f *fakeGateway) ReactivateSubscription(_ context.Context, _ string) (*stripe.Subscription, error) {
	f.calls++
	return nil, f.err
}

func (f *fakeGateway) ChangeSubscriptionPlan(_ context.Context, _, _ string) (*stripe.Subscription, error) {
	f.calls++
	return nil, f.err
}

type fakeGenerator struct {
	response string
}

func (f *fakeGenerator) GenerateText(_ context.Context, _ string) (string, error) {
	return f.response, nil
}

const testWebhookSecret = "whsec_test_secret"

type testHarness struct {
	app      *fiber.App
	users    *fakeUserRepo
	subs     *fakeSubRepo
	payments *fakePaymentRepo
	events   *fakeEventRepo
	execs    *fakeExecutionRepo
	gw       *fakeGateway
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		users:    newFakeUserRepo(),
		subs:     newFakeSubRepo(),
		payments: newFakePaymentRepo(),
		events:   newFakeEventRepo(),
		execs:    &fakeExecutionRepo{},
		gw:       newFakeGateway(),
	}

	repos := &repository.Repositories{
		User:              h.users,
		Subscription:      h.subs,
		Payment:           h.payments,
		WorkflowExecution: h.execs,
		WebhookEvent:      h.events,
	}

	h.app = fiber.New()
	router.InstallRouter(h.app, &router.Dependencies{
		Repos:          repos,
		Gateway:        h.gw,
		BillingService: billing.NewService(repos, h.gw),
		WorkflowSvc:    workflow.NewService(&fakeGenerator{response: "generated text"}, h.execs, nil),
		WebhookSecret:  testWebhookSecret,
	})
	return h
}

func (h *testHarness) request(t *testing.T, method, target string, body interface{}, authUserID string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authUserID != "" {
		req.Header.Set(middleware.HeaderAuthUserID, authUserID)
		req.Header.Set(middleware.HeaderAuthEmail, authUserID+"@example.com")
		req.Header.Set(middleware.HeaderAuthName, "Test User")
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
