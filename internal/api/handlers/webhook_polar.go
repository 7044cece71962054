// This file implements the Polar.sh webhook handler.
//
// Polar signs deliveries with the Standard Webhooks scheme; a request that
// fails verification is rejected with a 400 before any parsing of the body.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zecu/internal/core"
	"zecu/internal/types"
)

// polarCheckoutConfirmed is the checkout status that grants the plan.
const polarCheckoutConfirmed = "confirmed"

// --- Interfaces for webhook handler dependencies ---

// WebhookVerifier checks a Standard Webhooks signature.
// Satisfied by external.PolarClient.
type WebhookVerifier interface {
	VerifyWebhookSignature(id, timestamp, signatureHeader string, body []byte) error
}

// SubscriptionUpdater writes a Polar-granted plan in one statement.
// Satisfied by db.UserRepository.
type SubscriptionUpdater interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	UpdatePolarSubscription(ctx context.Context, userID string, plan types.PlanTier, expiresAt *time.Time, subscriptionID string) error
}

// --- Handler ---

// PolarWebhookHandler reconciles Polar checkout events into plan upgrades.
type PolarWebhookHandler struct {
	verifier  WebhookVerifier
	users     SubscriptionUpdater
	purchases PurchaseRecorder
	events    EventClaimer
	logger    *slog.Logger
}

// NewPolarWebhookHandler creates the handler with the provided dependencies.
func NewPolarWebhookHandler(
	verifier WebhookVerifier,
	users SubscriptionUpdater,
	purchases PurchaseRecorder,
	events EventClaimer,
	logger *slog.Logger,
) *PolarWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolarWebhookHandler{
		verifier:  verifier,
		users:     users,
		purchases: purchases,
		events:    events,
		logger:    logger,
	}
}

// RegisterRoutes mounts the Polar webhook endpoint. Registered separately
// from the payments routes because webhooks carry no session.
func (h *PolarWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/polar", h.Handle)
}

// polarWebhookEvent is a minimal representation of a Polar webhook event,
// tailored to the fields the reconciliation flow reads.
type polarWebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// polarCheckoutObj is the checkout resource inside checkout events.
type polarCheckoutObj struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	SubscriptionID string            `json:"subscription_id"`
	Metadata       map[string]string `json:"metadata"`
}

// Handle processes incoming Polar webhook events.
//
//  1. Read the raw body and the webhook-id / webhook-timestamp /
//     webhook-signature headers.
//  2. Verify the signature over "id.timestamp.body"; failures are 400.
//  3. Route by event type; only confirmed checkout updates change state.
//  4. Claim the delivery ID just before the plan write; duplicates ACK
//     without re-applying.
//  5. Processing failures release any claim taken and return a non-200, so
//     the provider redelivers and a transient failure cannot permanently
//     lose a confirmed checkout.
func (h *PolarWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	webhookID := r.Header.Get("webhook-id")
	timestamp := r.Header.Get("webhook-timestamp")
	signature := r.Header.Get("webhook-signature")

	if err := h.verifier.VerifyWebhookSignature(webhookID, timestamp, signature, payload); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"webhook_id", webhookID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	var event polarWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WarnContext(r.Context(), "malformed webhook payload", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook payload",
			err,
		))
		return
	}

	if err := h.routeEvent(r.Context(), webhookID, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"webhook_id", webhookID,
			"event_type", event.Type,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, http.StatusOK, map[string]any{"received": true})
}

// routeEvent dispatches the webhook event by type.
func (h *PolarWebhookHandler) routeEvent(ctx context.Context, webhookID string, event *polarWebhookEvent) error {
	switch event.Type {
	case "checkout.updated":
		return h.handleCheckout(ctx, webhookID, event)

	case "checkout.created":
		// Checkouts are born unconfirmed; the confirmed state arrives as an
		// update. Creation events never act, only leave a trace.
		h.logger.InfoContext(ctx, "checkout created at provider",
			"event_type", event.Type,
		)
		return nil

	case "subscription.canceled", "subscription.revoked":
		// Expiry is lazy: the plan simply lapses at plan_expires_at, so a
		// cancellation needs no write, only a trace.
		h.logger.InfoContext(ctx, "subscription ended at provider",
			"event_type", event.Type,
		)
		return nil

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// releaseClaim withdraws the idempotency claim after a failed application so
// the provider's redelivery is not mistaken for a duplicate.
func (h *PolarWebhookHandler) releaseClaim(ctx context.Context, webhookID string) {
	if err := h.events.Release(ctx, types.ProviderPolar, webhookID); err != nil {
		h.logger.ErrorContext(ctx, "failed to release webhook claim",
			"webhook_id", webhookID,
			"error", err,
		)
	}
}

// handleCheckout applies a confirmed checkout: the metadata names the user,
// and the plan runs for one calendar month from confirmation.
func (h *PolarWebhookHandler) handleCheckout(ctx context.Context, webhookID string, event *polarWebhookEvent) error {
	var checkout polarCheckoutObj
	if err := json.Unmarshal(event.Data, &checkout); err != nil {
		return fmt.Errorf("parsing checkout object: %w", err)
	}

	if checkout.Status != polarCheckoutConfirmed {
		h.logger.InfoContext(ctx, "checkout not confirmed yet",
			"checkout_id", checkout.ID,
			"status", checkout.Status,
		)
		return nil
	}

	userID := checkout.Metadata["userId"]
	if userID == "" {
		return fmt.Errorf("confirmed checkout %s carries no userId metadata", checkout.ID)
	}

	plan := types.PlanTier(checkout.Metadata["plan"])
	if !plan.IsValid() {
		plan = types.PlanPlus
	}

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving checkout user %s: %w", userID, err)
	}

	// The claim is taken only once the checkout is known confirmed and the
	// user resolved. Claiming earlier would make the provider's redelivery
	// of a transiently failed delivery look like a duplicate.
	first, err := h.events.Claim(ctx, types.ProviderPolar, webhookID)
	if err != nil {
		return fmt.Errorf("claiming delivery %s: %w", webhookID, err)
	}
	if !first {
		h.logger.InfoContext(ctx, "duplicate webhook delivery ignored",
			"webhook_id", webhookID,
		)
		return nil
	}

	// One calendar month, not 30 days: renewal anchored to the same day of
	// the next month.
	expiresAt := time.Now().UTC().AddDate(0, 1, 0)
	subscriptionID := checkout.SubscriptionID
	if subscriptionID == "" {
		subscriptionID = checkout.ID
	}
	if err := h.users.UpdatePolarSubscription(ctx, user.ID, plan, &expiresAt, subscriptionID); err != nil {
		h.releaseClaim(ctx, webhookID)
		return fmt.Errorf("upgrading user %s: %w", user.ID, err)
	}

	purchase := &types.Purchase{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Provider:    types.ProviderPolar,
		ExternalID:  checkout.ID,
		Plan:        plan,
		AmountCents: checkout.Amount,
		Currency:    checkout.Currency,
	}
	if err := h.purchases.Create(ctx, purchase); err != nil {
		h.logger.ErrorContext(ctx, "failed to record purchase",
			"user_id", user.ID,
			"checkout_id", checkout.ID,
			"error", err,
		)
	}

	h.logger.InfoContext(ctx, "plan upgraded from confirmed checkout",
		"user_id", user.ID,
		"checkout_id", checkout.ID,
		"plan", plan,
		"plan_expires_at", expiresAt,
	)
	return nil
}
