package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"zecu/internal/types"
)

// --- Mocks ---

type mockWebhookVerifier struct {
	mock.Mock
}

func (m *mockWebhookVerifier) VerifyWebhookSignature(id, timestamp, signatureHeader string, body []byte) error {
	return m.Called(id, timestamp, signatureHeader, body).Error(0)
}

type mockSubscriptionUpdater struct {
	mock.Mock
}

func (m *mockSubscriptionUpdater) GetByID(ctx context.Context, id string) (*types.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubscriptionUpdater) UpdatePolarSubscription(ctx context.Context, userID string, plan types.PlanTier, expiresAt *time.Time, subscriptionID string) error {
	return m.Called(ctx, userID, plan, expiresAt, subscriptionID).Error(0)
}

type polarTestDeps struct {
	verifier  *mockWebhookVerifier
	users     *mockSubscriptionUpdater
	purchases *mockPurchaseRecorder
	events    *mockEventClaimer
	router    chi.Router
}

func newPolarWebhookTest() *polarTestDeps {
	d := &polarTestDeps{
		verifier:  new(mockWebhookVerifier),
		users:     new(mockSubscriptionUpdater),
		purchases: new(mockPurchaseRecorder),
		events:    new(mockEventClaimer),
	}
	h := NewPolarWebhookHandler(d.verifier, d.users, d.purchases, d.events, testLogger())
	d.router = chi.NewRouter()
	h.RegisterRoutes(d.router)
	return d
}

func postPolarWebhook(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/polar", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("webhook-id", "evt_1")
	req.Header.Set("webhook-timestamp", "1234567890")
	req.Header.Set("webhook-signature", "v1,sig")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestPolarWebhook_ConfirmedCheckoutUpgradesPlan(t *testing.T) {
	d := newPolarWebhookTest()
	body := `{
		"type": "checkout.updated",
		"data": {
			"id": "co_1",
			"status": "confirmed",
			"amount": 299,
			"currency": "usd",
			"subscription_id": "sub_1",
			"metadata": {"userId": "user_1", "plan": "plus"}
		}
	}`

	d.verifier.On("VerifyWebhookSignature", "evt_1", "1234567890", "v1,sig", mock.Anything).Return(nil)
	d.events.On("Claim", mock.Anything, types.ProviderPolar, "evt_1").Return(true, nil)
	d.users.On("GetByID", mock.Anything, "user_1").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	d.users.On("UpdatePolarSubscription", mock.Anything, "user_1", types.PlanPlus,
		mock.MatchedBy(func(expires *time.Time) bool {
			if expires == nil {
				return false
			}
			// One calendar month out, give or take test runtime.
			want := time.Now().UTC().AddDate(0, 1, 0)
			return expires.Sub(want).Abs() < time.Minute
		}), "sub_1").Return(nil)
	d.purchases.On("Create", mock.Anything, mock.MatchedBy(func(p *types.Purchase) bool {
		return p.UserID == "user_1" &&
			p.Provider == types.ProviderPolar &&
			p.ExternalID == "co_1" &&
			p.AmountCents == 299 &&
			p.Currency == "usd"
	})).Return(nil)

	rec := postPolarWebhook(d.router, body)

	assert.Equal(t, http.StatusOK, rec.Code)
	d.users.AssertExpectations(t)
	d.purchases.AssertExpectations(t)
}

func TestPolarWebhook_BadSignatureRejected(t *testing.T) {
	d := newPolarWebhookTest()

	d.verifier.On("VerifyWebhookSignature", "evt_1", "1234567890", "v1,sig", mock.Anything).
		Return(types.NewAppError(types.ErrCodeValidationFailed, "webhook signature mismatch", nil))

	rec := postPolarWebhook(d.router, `{"type":"checkout.updated","data":{}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	d.events.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestPolarWebhook_DuplicateDeliveryIsNotReapplied(t *testing.T) {
	d := newPolarWebhookTest()

	d.verifier.On("VerifyWebhookSignature", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.users.On("GetByID", mock.Anything, "user_1").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	d.events.On("Claim", mock.Anything, types.ProviderPolar, "evt_1").Return(false, nil)

	rec := postPolarWebhook(d.router, `{"type":"checkout.updated","data":{"id":"co_1","status":"confirmed","metadata":{"userId":"user_1"}}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	d.users.AssertNotCalled(t, "UpdatePolarSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPolarWebhook_FailedUpgradeReleasesClaim(t *testing.T) {
	d := newPolarWebhookTest()

	d.verifier.On("VerifyWebhookSignature", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.users.On("GetByID", mock.Anything, "user_1").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	d.events.On("Claim", mock.Anything, types.ProviderPolar, "evt_1").Return(true, nil)
	d.users.On("UpdatePolarSubscription", mock.Anything, "user_1", mock.Anything, mock.Anything, mock.Anything).
		Return(types.NewAppError(types.ErrCodeInternalDB, "write failed", nil))
	d.events.On("Release", mock.Anything, types.ProviderPolar, "evt_1").Return(nil)

	rec := postPolarWebhook(d.router, `{"type":"checkout.updated","data":{"id":"co_1","status":"confirmed","metadata":{"userId":"user_1"}}}`)

	// Non-200 plus a released claim: the provider's redelivery can reprocess.
	assert.NotEqual(t, http.StatusOK, rec.Code)
	d.events.AssertCalled(t, "Release", mock.Anything, types.ProviderPolar, "evt_1")
}

func TestPolarWebhook_UnconfirmedCheckoutIgnored(t *testing.T) {
	d := newPolarWebhookTest()

	d.verifier.On("VerifyWebhookSignature", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec := postPolarWebhook(d.router, `{"type":"checkout.updated","data":{"id":"co_1","status":"open","metadata":{"userId":"user_1"}}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	d.events.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
	d.users.AssertNotCalled(t, "UpdatePolarSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPolarWebhook_CheckoutCreatedNeverActs(t *testing.T) {
	d := newPolarWebhookTest()

	d.verifier.On("VerifyWebhookSignature", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// Even a confirmed-status creation event is log-only; state only moves
	// on checkout.updated.
	rec := postPolarWebhook(d.router, `{"type":"checkout.created","data":{"id":"co_1","status":"confirmed","metadata":{"userId":"user_1"}}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	d.users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	d.users.AssertNotCalled(t, "UpdatePolarSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPolarWebhook_SubscriptionCanceledNeedsNoWrite(t *testing.T) {
	d := newPolarWebhookTest()

	d.verifier.On("VerifyWebhookSignature", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec := postPolarWebhook(d.router, `{"type":"subscription.canceled","data":{"id":"sub_1"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	d.users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
