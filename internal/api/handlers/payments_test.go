package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"zecu/internal/external"
	"zecu/internal/types"
)

// --- Mocks ---

type mockPreferenceCreator struct {
	mock.Mock
}

func (m *mockPreferenceCreator) CreatePreference(ctx context.Context, pref *external.PreferenceRequest) (*external.Preference, error) {
	args := m.Called(ctx, pref)
	if p := args.Get(0); p != nil {
		return p.(*external.Preference), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCheckoutCreator struct {
	mock.Mock
}

func (m *mockCheckoutCreator) CreateCheckout(ctx context.Context, checkout *external.CheckoutRequest) (*external.Checkout, error) {
	args := m.Called(ctx, checkout)
	if c := args.Get(0); c != nil {
		return c.(*external.Checkout), args.Error(1)
	}
	return nil, args.Error(1)
}

func newPaymentsTestRouter(mp *mockPreferenceCreator, polar *mockCheckoutCreator, users *mockUserReader) chi.Router {
	h := NewPaymentsHandler(
		mp,
		polar,
		users,
		PaymentURLs{
			PublicURL:       "https://api.zecu.example",
			PolarProductID:  "prod_plus",
			PolarSuccessURL: "https://zecu.example/gracias",
		},
		passthroughLimiter,
		sessionStub(types.SessionClaims{UserID: "user_1", Phone: "+5491134567890"}),
		testLogger(),
		testValidator(),
	)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// --- Tests ---

func TestPaymentsHandler_CreatePayment_AttachesMetadata(t *testing.T) {
	mp := new(mockPreferenceCreator)
	users := new(mockUserReader)
	router := newPaymentsTestRouter(mp, new(mockCheckoutCreator), users)

	users.On("GetByID", mock.Anything, "user_1").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	mp.On("CreatePreference", mock.Anything, mock.MatchedBy(func(pref *external.PreferenceRequest) bool {
		return pref.Metadata["user_id"] == "user_1" &&
			pref.Metadata["user_phone"] == "+5491134567890" &&
			pref.Metadata["plan"] == "plus" &&
			pref.ExternalReference == "user_1" &&
			pref.NotificationURL == "https://api.zecu.example/api/webhooks/mercadopago" &&
			len(pref.Items) == 1 &&
			pref.Items[0].UnitPrice == 2999.00 &&
			pref.Items[0].CurrencyID == "ARS"
	})).Return(&external.Preference{
		ID:               "pref_1",
		InitPoint:        "https://www.mercadopago.com/init/pref_1",
		SandboxInitPoint: "https://sandbox.mercadopago.com/init/pref_1",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/create-payment", strings.NewReader(`{"planId":"plus"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "pref_1", body["preferenceId"])
	assert.Equal(t, "https://www.mercadopago.com/init/pref_1", body["initPoint"])
	assert.Equal(t, "https://sandbox.mercadopago.com/init/pref_1", body["sandboxInitPoint"])
	mp.AssertExpectations(t)
}

func TestPaymentsHandler_CreatePayment_RejectsUnknownPlan(t *testing.T) {
	mp := new(mockPreferenceCreator)
	users := new(mockUserReader)
	router := newPaymentsTestRouter(mp, new(mockCheckoutCreator), users)

	req := httptest.NewRequest(http.MethodPost, "/create-payment", strings.NewReader(`{"planId":"free"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mp.AssertNotCalled(t, "CreatePreference", mock.Anything, mock.Anything)
}

func TestPaymentsHandler_CreatePayment_ProviderDown(t *testing.T) {
	mp := new(mockPreferenceCreator)
	users := new(mockUserReader)
	router := newPaymentsTestRouter(mp, new(mockCheckoutCreator), users)

	users.On("GetByID", mock.Anything, "user_1").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	mp.On("CreatePreference", mock.Anything, mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeExternalService, "mercadopago unavailable", nil))

	req := httptest.NewRequest(http.MethodPost, "/create-payment", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPaymentsHandler_CreateCheckout_UsesCamelCaseMetadata(t *testing.T) {
	polar := new(mockCheckoutCreator)
	users := new(mockUserReader)
	router := newPaymentsTestRouter(new(mockPreferenceCreator), polar, users)

	users.On("GetByID", mock.Anything, "user_1").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	polar.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(c *external.CheckoutRequest) bool {
		return c.ProductID == "prod_plus" &&
			c.SuccessURL == "https://zecu.example/gracias" &&
			c.CustomerEmail == "ana@example.com" &&
			c.Metadata["userId"] == "user_1" &&
			c.Metadata["plan"] == "plus"
	})).Return(&external.Checkout{
		ID:  "co_1",
		URL: "https://polar.sh/checkout/co_1",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/polar/create-checkout",
		strings.NewReader(`{"plan":"plus","email":"ana@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "co_1", body["checkoutId"])
	assert.Equal(t, "https://polar.sh/checkout/co_1", body["checkoutUrl"])
	polar.AssertExpectations(t)
}

func TestPaymentsHandler_CreateCheckout_FallsBackToAccountEmail(t *testing.T) {
	polar := new(mockCheckoutCreator)
	users := new(mockUserReader)
	router := newPaymentsTestRouter(new(mockPreferenceCreator), polar, users)

	users.On("GetByID", mock.Anything, "user_1").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890", Email: "cuenta@example.com"}, nil)
	polar.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(c *external.CheckoutRequest) bool {
		return c.CustomerEmail == "cuenta@example.com"
	})).Return(&external.Checkout{ID: "co_2", URL: "https://polar.sh/checkout/co_2"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/polar/create-checkout", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	polar.AssertExpectations(t)
}
