// Package handlers contains the HTTP handler implementations for the Zecu API.
//
// Each handler is responsible for:
//   - Decoding and validating HTTP requests
//   - Delegating to service-layer logic
//   - Encoding responses and managing HTTP-specific concerns (headers, cookies)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"zecu/internal/auth"
	"zecu/internal/core"
	"zecu/internal/types"
)

// Middleware is the standard chi middleware shape.
type Middleware = func(http.Handler) http.Handler

// RateLimiter resolves an endpoint category into its limiter middleware.
// Satisfied by core.Server.RateLimit.
type RateLimiter = func(category string) Middleware

// --- DTOs ---

// SendOTPRequest is the request body for POST /auth/send-otp.
type SendOTPRequest struct {
	Phone string `json:"phone" validate:"required,min=10,max=25"`
	Name  string `json:"name" validate:"omitempty,max=100"`
}

// VerifyOTPRequest is the request body for POST /auth/verify-otp.
// Exactly one of Phone or Email identifies the account. The code travels as
// either "code" or "otp"; both field names are accepted because existing
// clients use both. The cross-field rules are enforced in the handler
// because they depend on which fields are present, not on any field alone.
type VerifyOTPRequest struct {
	Phone string `json:"phone" validate:"omitempty,min=10,max=25"`
	Email string `json:"email" validate:"omitempty,email"`
	Code  string `json:"code" validate:"omitempty,len=6,numeric"`
	OTP   string `json:"otp" validate:"omitempty,len=6,numeric"`
}

// loginCode returns the submitted code under whichever field name carried it.
func (r *VerifyOTPRequest) loginCode() string {
	if r.Code != "" {
		return r.Code
	}
	return r.OTP
}

// userPayload is the user shape embedded in auth responses. The session
// token itself travels only in the HttpOnly cookie, never in the body.
type userPayload struct {
	ID            string     `json:"id"`
	Phone         string     `json:"phone"`
	Name          string     `json:"name,omitempty"`
	Email         string     `json:"email,omitempty"`
	Plan          string     `json:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
}

// newUserPayload applies the lazy plan expiry rule before shaping the user
// for a response.
func newUserPayload(u *types.User) userPayload {
	return userPayload{
		ID:            u.ID,
		Phone:         u.Phone,
		Name:          u.Name,
		Email:         u.Email,
		Plan:          string(u.EffectivePlan(time.Now().UTC())),
		PlanExpiresAt: u.PlanExpiresAt,
	}
}

// --- Service Interfaces ---
//
// These interfaces allow the handler to depend on abstractions rather than
// concrete service implementations, enabling testability via mocks.

// OTPFlow orchestrates the passwordless send/verify flow.
// Satisfied by auth.OTPService.
type OTPFlow interface {
	Send(ctx context.Context, rawPhone, name string) (*auth.SendResult, error)
	VerifyByPhone(ctx context.Context, rawPhone, code string) (*types.User, error)
	VerifyByEmail(ctx context.Context, email, code string) (*types.User, error)
}

// SessionIssuer signs session tokens. Satisfied by auth.TokenService.
type SessionIssuer interface {
	Issue(claims types.SessionClaims) (string, time.Time, error)
}

// UserReader is the user lookup surface needed by check-session.
// Satisfied by db.UserRepository.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// --- Cookie configuration ---

// CookieConfig controls how the session cookie is written.
type CookieConfig struct {
	Name     string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookieConfig returns the standard session cookie settings. Secure
// is driven by configuration so local development over plain HTTP works.
func DefaultCookieConfig(secure bool) CookieConfig {
	return CookieConfig{
		Name:     core.SessionCookieName,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// --- Handler ---

// AuthHandler maps HTTP requests to the OTP flow and manages the session
// cookie lifecycle.
type AuthHandler struct {
	otpFlow      OTPFlow
	tokens       SessionIssuer
	users        UserReader
	cookieConfig CookieConfig
	sessionTTL   time.Duration
	limit        RateLimiter
	requireAuth  Middleware
	logger       *slog.Logger
	validator    *core.Validator
}

// NewAuthHandler creates a new AuthHandler with the provided dependencies.
func NewAuthHandler(
	otpFlow OTPFlow,
	tokens SessionIssuer,
	users UserReader,
	cookieCfg CookieConfig,
	sessionTTL time.Duration,
	limit RateLimiter,
	requireAuth Middleware,
	l *slog.Logger,
	v *core.Validator,
) *AuthHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuthHandler{
		otpFlow:      otpFlow,
		tokens:       tokens,
		users:        users,
		cookieConfig: cookieCfg,
		sessionTTL:   sessionTTL,
		limit:        limit,
		requireAuth:  requireAuth,
		logger:       l,
		validator:    v,
	}
}

// RegisterRoutes mounts all auth routes onto the provided router.
//
// Public Routes (rate limited, no session required):
//   - POST /auth/send-otp   - Generate and dispatch a login code
//   - POST /auth/verify-otp - Exchange a code for a session cookie
//
// Protected Routes (requires valid session):
//   - GET  /auth/check-session - Return the authenticated user
//   - POST /auth/logout        - Expire the session cookie
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(h.limit("auth-send-otp")).Post("/send-otp", h.HandleSendOTP)
		r.With(h.limit("auth-verify-otp")).Post("/verify-otp", h.HandleVerifyOTP)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/check-session", h.HandleCheckSession)
			r.Post("/logout", h.HandleLogout)
		})
	})
}

// HandleSendOTP processes POST /auth/send-otp.
//
//  1. Decode and validate the SendOTPRequest.
//  2. Delegate to the OTP flow (normalization, user creation, dispatch).
//  3. Report whether the account was created by this call, so the client
//     can show an onboarding message.
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.otpFlow.Send(r.Context(), req.Phone, req.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, http.StatusOK, map[string]any{
		"isNewUser": result.IsNewUser,
		"expiresIn": int(result.ExpiresIn.Seconds()),
	})
}

// HandleVerifyOTP processes POST /auth/verify-otp.
//
// On success it sets the HttpOnly session cookie and returns the user. All
// verification failures surface the same generic 401 regardless of cause.
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if (req.Phone == "") == (req.Email == "") {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			"exactly one of phone or email is required",
			nil,
			map[string]any{"phone": "provide phone or email", "email": "provide phone or email"},
		))
		return
	}
	code := req.loginCode()
	if code == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			"the login code is required",
			nil,
			map[string]any{"code": "provide code or otp"},
		))
		return
	}

	var (
		user *types.User
		err  error
	)
	if req.Phone != "" {
		user, err = h.otpFlow.VerifyByPhone(r.Context(), req.Phone, code)
	} else {
		user, err = h.otpFlow.VerifyByEmail(r.Context(), req.Email, code)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(types.SessionClaims{
		UserID: user.ID,
		Phone:  user.Phone,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.setSessionCookie(w, token, expiresAt)

	core.Success(w, r, http.StatusOK, map[string]any{
		"user":       newUserPayload(user),
		"expires_at": expiresAt,
	})
}

// HandleCheckSession processes GET /auth/check-session. The session resolved
// in middleware; this re-reads the user so plan changes land immediately.
func (h *AuthHandler) HandleCheckSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := types.GetSession(r.Context())

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	core.Success(w, r, http.StatusOK, map[string]any{
		"authenticated":   true,
		"userId":          user.ID,
		"phone":           user.Phone,
		"name":            user.Name,
		"plan":            user.EffectivePlan(now),
		"plan_expires_at": user.PlanExpiresAt,
		"isPlanExpired":   user.IsPlanExpired(now),
	})
}

// HandleLogout processes POST /auth/logout by expiring the session cookie.
// Tokens are stateless, so there is no server-side session to revoke.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieConfig.Name,
		Value:    "",
		Path:     h.cookieConfig.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieConfig.Secure,
		SameSite: h.cookieConfig.SameSite,
	})

	core.Success(w, r, http.StatusOK, map[string]any{
		"message": "logged out",
	})
}

// setSessionCookie writes the HttpOnly session cookie.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieConfig.Name,
		Value:    token,
		Path:     h.cookieConfig.Path,
		Expires:  expiresAt,
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieConfig.Secure,
		SameSite: h.cookieConfig.SameSite,
	})
}
