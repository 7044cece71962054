// This file implements the Mercado Pago webhook handler.
//
// The handler is NOT behind auth middleware -- it is called directly by
// Mercado Pago. The notification payload is treated as untrusted: it only
// names a payment ID, and every fact about the payment (status, amount,
// metadata, payer) is re-fetched from the provider's API before any state
// changes.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zecu/internal/auth"
	"zecu/internal/core"
	"zecu/internal/external"
	"zecu/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a webhook payload
// (64 KB). Provider notifications are tiny; this limit protects against
// abuse.
const maxWebhookBodySize = 64 * 1024

// mercadoPagoPlanDuration is how much paid time one approved payment buys.
const mercadoPagoPlanDuration = 30 * 24 * time.Hour

// --- Interfaces for webhook handler dependencies ---

// PaymentFetcher re-fetches payments from the provider.
// Satisfied by external.MercadoPagoClient.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*external.Payment, error)
}

// PlanUpdater is the user persistence surface the reconciliation flow needs.
// Satisfied by db.UserRepository.
type PlanUpdater interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByPhone(ctx context.Context, phone string) (*types.User, error)
	UpdatePlan(ctx context.Context, userID string, plan types.PlanTier, expiresAt *time.Time) error
}

// PurchaseRecorder persists reconciled payments.
// Satisfied by db.PurchaseRepository.
type PurchaseRecorder interface {
	Create(ctx context.Context, p *types.Purchase) error
}

// EventClaimer is the webhook idempotency guard.
// Satisfied by db.WebhookEventRepository.
type EventClaimer interface {
	Claim(ctx context.Context, provider types.PaymentProvider, eventID string) (bool, error)
	Release(ctx context.Context, provider types.PaymentProvider, eventID string) error
}

// --- Handler ---

// MercadoPagoWebhookHandler reconciles asynchronous payment notifications
// into plan upgrades.
type MercadoPagoWebhookHandler struct {
	payments  PaymentFetcher
	users     PlanUpdater
	purchases PurchaseRecorder
	events    EventClaimer
	otpFlow   OTPFlow
	logger    *slog.Logger
}

// NewMercadoPagoWebhookHandler creates the handler with the provided
// dependencies.
func NewMercadoPagoWebhookHandler(
	payments PaymentFetcher,
	users PlanUpdater,
	purchases PurchaseRecorder,
	events EventClaimer,
	otpFlow OTPFlow,
	logger *slog.Logger,
) *MercadoPagoWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MercadoPagoWebhookHandler{
		payments:  payments,
		users:     users,
		purchases: purchases,
		events:    events,
		otpFlow:   otpFlow,
		logger:    logger,
	}
}

// RegisterRoutes mounts the Mercado Pago webhook endpoint. Registered
// separately from the payments routes because webhooks carry no session.
func (h *MercadoPagoWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/mercadopago", h.Handle)
}

// mpNotification is the provider's notification envelope. Only the payment
// ID is read; everything else comes from the re-fetch.
type mpNotification struct {
	Type string `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// Handle processes incoming Mercado Pago webhook notifications.
//
//  1. Read and parse the notification envelope; malformed input is a 400 so
//     the provider's retry surfaces a real contract break.
//  2. Ignore every type except "payment" (200).
//  3. Re-fetch the payment and dispatch on its status.
//  4. Claim the payment ID just before the plan write; duplicates ACK
//     without re-applying.
//  5. Processing failures release any claim taken and return a non-200, so
//     the provider redelivers and a transient fetch or write failure cannot
//     permanently lose an approved payment.
func (h *MercadoPagoWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
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

	var notification mpNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		h.logger.WarnContext(r.Context(), "malformed webhook payload", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook payload",
			err,
		))
		return
	}

	if notification.Type != "payment" {
		h.logger.InfoContext(r.Context(), "ignoring non-payment notification",
			"type", notification.Type,
		)
		core.Success(w, r, http.StatusOK, map[string]any{"received": true})
		return
	}

	paymentID := notification.Data.ID.String()
	if paymentID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationFailed,
			"notification is missing the payment id",
			nil,
		))
		return
	}

	if err := h.reconcile(r.Context(), paymentID); err != nil {
		h.logger.ErrorContext(r.Context(), "payment reconciliation failed",
			"payment_id", paymentID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.Success(w, r, http.StatusOK, map[string]any{"received": true})
}

// reconcile re-fetches the payment and applies the status-appropriate state
// change.
func (h *MercadoPagoWebhookHandler) reconcile(ctx context.Context, paymentID string) error {
	payment, err := h.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("fetching payment %s: %w", paymentID, err)
	}

	switch payment.Status {
	case types.MPStatusApproved:
		// The claim is taken only once the payment is fetched and known
		// actionable. Claiming earlier would make the provider's redelivery
		// of a transiently failed fetch look like a duplicate.
		first, err := h.events.Claim(ctx, types.ProviderMercadoPago, paymentID)
		if err != nil {
			return fmt.Errorf("claiming payment %s: %w", paymentID, err)
		}
		if !first {
			h.logger.InfoContext(ctx, "duplicate payment notification ignored",
				"payment_id", paymentID,
			)
			return nil
		}
		if err := h.applyApproved(ctx, payment); err != nil {
			h.releaseClaim(ctx, paymentID)
			return err
		}
		return nil

	case types.MPStatusRejected, types.MPStatusPending, types.MPStatusCancelled:
		h.logger.InfoContext(ctx, "payment not actionable",
			"payment_id", payment.ID,
			"status", payment.Status,
			"status_detail", payment.StatusDetail,
		)
		return nil

	default:
		h.logger.InfoContext(ctx, "ignoring unrecognized payment status",
			"payment_id", payment.ID,
			"status", payment.Status,
		)
		return nil
	}
}

// releaseClaim withdraws the idempotency claim after a failed application so
// the provider's redelivery is not mistaken for a duplicate.
func (h *MercadoPagoWebhookHandler) releaseClaim(ctx context.Context, paymentID string) {
	if err := h.events.Release(ctx, types.ProviderMercadoPago, paymentID); err != nil {
		h.logger.ErrorContext(ctx, "failed to release webhook claim",
			"payment_id", paymentID,
			"error", err,
		)
	}
}

// applyApproved upgrades the paying user to plus. Resolution prefers
// checkout metadata; payments without metadata (created outside the
// authenticated flow) fall back to payer-detail heuristics.
func (h *MercadoPagoWebhookHandler) applyApproved(ctx context.Context, payment *external.Payment) error {
	user, err := h.resolveUser(ctx, payment)
	if err != nil {
		return err
	}
	if user == nil {
		// Metadata integrity failure: logged inside resolveUser, skipped on
		// purpose so a corrupted payment can never credit the wrong account.
		return nil
	}

	expiresAt := time.Now().UTC().Add(mercadoPagoPlanDuration)
	if err := h.users.UpdatePlan(ctx, user.ID, types.PlanPlus, &expiresAt); err != nil {
		return fmt.Errorf("upgrading user %s: %w", user.ID, err)
	}

	purchase := &types.Purchase{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Provider:    types.ProviderMercadoPago,
		ExternalID:  strconv.FormatInt(payment.ID, 10),
		Plan:        types.PlanPlus,
		AmountCents: int64(payment.TransactionAmount * 100),
		Currency:    payment.CurrencyID,
	}
	if err := h.purchases.Create(ctx, purchase); err != nil {
		// The upgrade already landed; a failed purchase record is a
		// bookkeeping gap, not a reason to fail the event.
		h.logger.ErrorContext(ctx, "failed to record purchase",
			"user_id", user.ID,
			"payment_id", payment.ID,
			"error", err,
		)
	}

	h.logger.InfoContext(ctx, "plan upgraded from approved payment",
		"user_id", user.ID,
		"payment_id", payment.ID,
		"plan_expires_at", expiresAt,
	)
	return nil
}

// resolveUser finds the account a payment belongs to.
//
// Primary path: checkout metadata. A metadata user_id that does not resolve,
// or that resolves to an account with a different phone than metadata
// claims, is an integrity failure -- the payment is logged and skipped
// (nil, nil) rather than guessed at.
//
// Legacy path: no metadata at all. The payer's phone is reconstructed from
// the payment's payer fields; an unknown phone gets an account created and a
// login code dispatched so the payer can reach their new subscription.
func (h *MercadoPagoWebhookHandler) resolveUser(ctx context.Context, payment *external.Payment) (*types.User, error) {
	metaUserID := payment.MetadataString("user_id")
	metaPhone := payment.MetadataString("user_phone")

	if metaUserID != "" {
		user, err := h.users.GetByID(ctx, metaUserID)
		if err != nil {
			h.logger.ErrorContext(ctx, "payment metadata names unknown user",
				"payment_id", payment.ID,
				"meta_user_id", metaUserID,
				"error", err,
			)
			return nil, nil
		}
		if metaPhone != "" {
			normalized, err := auth.NormalizePhone(metaPhone)
			if err == nil && normalized != user.Phone {
				h.logger.ErrorContext(ctx, "payment metadata phone mismatch",
					"payment_id", payment.ID,
					"meta_user_id", metaUserID,
				)
				return nil, nil
			}
		}
		return user, nil
	}

	if metaPhone != "" {
		normalized, err := auth.NormalizePhone(metaPhone)
		if err != nil {
			h.logger.ErrorContext(ctx, "payment metadata phone invalid",
				"payment_id", payment.ID,
				"error", err,
			)
			return nil, nil
		}
		user, err := h.users.GetByPhone(ctx, normalized)
		if err != nil {
			h.logger.ErrorContext(ctx, "payment metadata phone names unknown user",
				"payment_id", payment.ID,
				"error", err,
			)
			return nil, nil
		}
		return user, nil
	}

	return h.resolveLegacyPayer(ctx, payment)
}

// resolveLegacyPayer handles payments created before metadata was attached
// to checkouts.
func (h *MercadoPagoWebhookHandler) resolveLegacyPayer(ctx context.Context, payment *external.Payment) (*types.User, error) {
	phoneSource := payment.Payer.Phone
	if phoneSource.Number == "" {
		phoneSource = payment.AdditionalInfo.Payer.Phone
	}

	phone, err := auth.DerivePayerPhone("", phoneSource.AreaCode, phoneSource.Number)
	if err != nil {
		h.logger.ErrorContext(ctx, "legacy payment payer phone unusable",
			"payment_id", payment.ID,
			"error", err,
		)
		return nil, nil
	}

	user, err := h.users.GetByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}

	// Unknown payer: create the account and send a login code so they can
	// claim the subscription they just paid for.
	name := payment.AdditionalInfo.Payer.FirstName
	if _, err := h.otpFlow.Send(ctx, phone, name); err != nil {
		// A dispatch failure still leaves the account created; the upgrade
		// below must not be lost over an undelivered message.
		h.logger.WarnContext(ctx, "welcome code dispatch failed for legacy payer",
			"payment_id", payment.ID,
			"error", err,
		)
	}

	user, err = h.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("creating account for legacy payer of payment %d: %w", payment.ID, err)
	}
	return user, nil
}
