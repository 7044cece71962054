package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zecu/internal/types"
)

// fakeRateLimitStore lets each test script the limiter's view of the window.
type fakeRateLimitStore struct {
	count      int
	countErr   error
	oldest     time.Time
	recorded   []string
	recordErr  error
	identifier string
}

func (f *fakeRateLimitStore) CountSince(ctx context.Context, identifier, endpoint string, since time.Time) (int, error) {
	f.identifier = identifier
	return f.count, f.countErr
}

func (f *fakeRateLimitStore) OldestSince(ctx context.Context, identifier, endpoint string, since time.Time) (time.Time, error) {
	return f.oldest, nil
}

func (f *fakeRateLimitStore) Record(ctx context.Context, identifier, endpoint string, windowStart time.Time) error {
	f.recorded = append(f.recorded, identifier)
	return f.recordErr
}

func (f *fakeRateLimitStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return nil
}

func newRateLimitTestServer(store RateLimitStore) *Server {
	return &Server{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RateLimitStore: store,
	}
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_UnderLimitPassesWithHeaders(t *testing.T) {
	store := &fakeRateLimitStore{count: 1}
	srv := newRateLimitTestServer(store)

	var called bool
	handler := srv.RateLimit("auth-send-otp")(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	require.Len(t, store.recorded, 1)
	assert.Equal(t, "ip:10.0.0.1", store.recorded[0])
}

func TestRateLimit_AtLimitDenies(t *testing.T) {
	store := &fakeRateLimitStore{
		count:  3,
		oldest: time.Now().UTC().Add(-2 * time.Minute),
	}
	srv := newRateLimitTestServer(store)

	var called bool
	handler := srv.RateLimit("auth-send-otp")(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, store.recorded)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	// Oldest entry is 2 minutes into a 5-minute window, so roughly 3 minutes remain.
	assert.LessOrEqual(t, retryAfter, 181)

	assert.Contains(t, rec.Body.String(), string(types.ErrCodeRateLimit))
}

func TestRateLimit_StoreErrorFailsOpen(t *testing.T) {
	store := &fakeRateLimitStore{countErr: errors.New("db down")}
	srv := newRateLimitTestServer(store)

	var called bool
	handler := srv.RateLimit("auth-send-otp")(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_NilStorePasses(t *testing.T) {
	srv := newRateLimitTestServer(nil)

	var called bool
	handler := srv.RateLimit("auth-send-otp")(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", nil))

	assert.True(t, called)
}

func TestRateLimit_IdentifierPrefersSession(t *testing.T) {
	store := &fakeRateLimitStore{count: 0}
	srv := newRateLimitTestServer(store)

	var called bool
	handler := srv.RateLimit("consultas")(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/api/consultas/validar", nil)
	req = req.WithContext(types.WithSession(req.Context(), types.SessionClaims{
		UserID: "user_1",
		Phone:  "+5491134567890",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, "user:user_1", store.identifier)
}

func TestRateLimit_IdentifierUsesForwardedFor(t *testing.T) {
	store := &fakeRateLimitStore{count: 0}
	srv := newRateLimitTestServer(store)

	var called bool
	handler := srv.RateLimit("consultas")(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/api/consultas/validar", nil)
	req.RemoteAddr = "172.16.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 172.16.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, "ip:203.0.113.7", store.identifier)
}

func TestRateLimit_UnknownCategoryUsesDefaultRule(t *testing.T) {
	store := &fakeRateLimitStore{count: 0}
	srv := newRateLimitTestServer(store)

	var called bool
	handler := srv.RateLimit("something-else")(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	assert.True(t, called)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
}
