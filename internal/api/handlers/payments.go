package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zecu/internal/core"
	"zecu/internal/external"
	"zecu/internal/quota"
	"zecu/internal/types"
)

// --- DTOs ---

// CreatePaymentRequest is the request body for POST /create-payment. Only the
// plus plan is purchasable; an absent planId defaults to it.
type CreatePaymentRequest struct {
	PlanID string `json:"planId" validate:"omitempty,plan_tier"`
}

// PolarCheckoutRequest is the request body for POST /polar/create-checkout.
type PolarCheckoutRequest struct {
	Plan  string `json:"plan" validate:"omitempty,plan_tier"`
	Email string `json:"email" validate:"omitempty,email"`
}

// --- Service Interfaces ---

// PreferenceCreator creates Mercado Pago checkout preferences.
// Satisfied by external.MercadoPagoClient.
type PreferenceCreator interface {
	CreatePreference(ctx context.Context, pref *external.PreferenceRequest) (*external.Preference, error)
}

// CheckoutCreator creates Polar checkout sessions.
// Satisfied by external.PolarClient.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, checkout *external.CheckoutRequest) (*external.Checkout, error)
}

// PaymentURLs carries the redirect and notification endpoints baked into
// created checkouts.
type PaymentURLs struct {
	// PublicURL is the API's public base URL (no trailing slash); the
	// Mercado Pago notification URL is derived from it.
	PublicURL string
	// PolarProductID is the Polar product granting the plus plan.
	PolarProductID string
	// PolarSuccessURL is where Polar redirects after a confirmed checkout.
	PolarSuccessURL string
}

// --- Handler ---

// PaymentsHandler creates provider checkouts for the plus plan upgrade.
// Both routes require a session: the authenticated user's identity is
// attached as checkout metadata, which is what the webhooks reconcile
// against later.
type PaymentsHandler struct {
	mercadoPago PreferenceCreator
	polar       CheckoutCreator
	users       UserReader
	urls        PaymentURLs
	limit       RateLimiter
	requireAuth Middleware
	logger      *slog.Logger
	validator   *core.Validator
}

// NewPaymentsHandler creates a new PaymentsHandler with the provided
// dependencies.
func NewPaymentsHandler(
	mp PreferenceCreator,
	polar CheckoutCreator,
	users UserReader,
	urls PaymentURLs,
	limit RateLimiter,
	requireAuth Middleware,
	l *slog.Logger,
	v *core.Validator,
) *PaymentsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PaymentsHandler{
		mercadoPago: mp,
		polar:       polar,
		users:       users,
		urls:        urls,
		limit:       limit,
		requireAuth: requireAuth,
		logger:      l,
		validator:   v,
	}
}

// RegisterRoutes mounts the checkout creation routes.
//
//   - POST /create-payment         - Mercado Pago preference (ARS)
//   - POST /polar/create-checkout  - Polar checkout session (USD)
func (h *PaymentsHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.With(h.limit("create-payment")).Post("/create-payment", h.HandleCreatePayment)
		r.With(h.limit("polar-create-checkout")).Post("/polar/create-checkout", h.HandleCreateCheckout)
	})
}

// purchasablePlan rejects requests for anything other than the plus plan.
func purchasablePlan(raw string) (types.PlanTier, error) {
	if raw == "" {
		return types.PlanPlus, nil
	}
	plan := types.PlanTier(raw)
	if plan != types.PlanPlus {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			"only the plus plan can be purchased",
			nil,
		)
	}
	return plan, nil
}

// HandleCreatePayment processes POST /create-payment.
//
// The preference carries user_id, user_phone, and plan as metadata; the
// Mercado Pago webhook reads those back to credit the right account without
// any payer-detail guessing.
func (h *PaymentsHandler) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	plan, err := purchasablePlan(req.PlanID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	claims, _ := types.GetSession(r.Context())
	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	limits := quota.LimitsFor(plan)
	pref := &external.PreferenceRequest{
		Items: []external.PreferenceItem{{
			Title:      "Zecu Plus - suscripción mensual",
			Quantity:   1,
			UnitPrice:  float64(limits.PriceARSCents) / 100,
			CurrencyID: "ARS",
		}},
		Metadata: map[string]string{
			"user_id":    user.ID,
			"user_phone": user.Phone,
			"plan":       string(plan),
		},
		ExternalReference: user.ID,
		NotificationURL:   h.urls.PublicURL + "/api/webhooks/mercadopago",
		BackURLs: &external.BackURLs{
			Success: h.urls.PublicURL + "/pago/exito",
			Failure: h.urls.PublicURL + "/pago/error",
			Pending: h.urls.PublicURL + "/pago/pendiente",
		},
		AutoReturn: "approved",
	}

	created, err := h.mercadoPago.CreatePreference(r.Context(), pref)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("mercadopago preference created",
		"user_id", user.ID,
		"preference_id", created.ID,
	)

	core.Success(w, r, http.StatusOK, map[string]any{
		"preferenceId":     created.ID,
		"initPoint":        created.InitPoint,
		"sandboxInitPoint": created.SandboxInitPoint,
	})
}

// HandleCreateCheckout processes POST /polar/create-checkout.
//
// Metadata keys here are camelCase (userId, plan) because that is what the
// Polar webhook handler reads back from checkout.updated events.
func (h *PaymentsHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req PolarCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	plan, err := purchasablePlan(req.Plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	claims, _ := types.GetSession(r.Context())
	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	email := req.Email
	if email == "" {
		email = user.Email
	}

	checkout := &external.CheckoutRequest{
		ProductID:     h.urls.PolarProductID,
		SuccessURL:    h.urls.PolarSuccessURL,
		CustomerEmail: email,
		Metadata: map[string]string{
			"userId": user.ID,
			"plan":   string(plan),
		},
	}

	created, err := h.polar.CreateCheckout(r.Context(), checkout)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("polar checkout created",
		"user_id", user.ID,
		"checkout_id", created.ID,
	)

	core.Success(w, r, http.StatusOK, map[string]any{
		"checkoutId":  created.ID,
		"checkoutUrl": created.URL,
	})
}
