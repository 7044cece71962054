package db

import (
	"context"

	"zecu/internal/types"
)

// WebhookEventRepository is the idempotency guard for inbound provider
// notifications. The webhook_events table carries a UNIQUE(provider,
// event_id) constraint; Claim inserts just before the plan mutation, so
// duplicate or concurrently retried deliveries collapse to a single
// application. A claim taken for a mutation that then fails is withdrawn
// with Release, keeping the provider's redelivery viable.
type WebhookEventRepository struct {
	db DBTX
}

// NewWebhookEventRepository creates a new WebhookEventRepository backed by
// the given database connection (pool or transaction).
func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Claim attempts to register the event as processed. It returns
// (true, nil) when this delivery is the first, (false, nil) when the event
// was already claimed by an earlier delivery, and an error only on a real
// database failure.
func (r *WebhookEventRepository) Claim(ctx context.Context, provider types.PaymentProvider, eventID string) (bool, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events (provider, event_id, received_at) VALUES ($1, $2, NOW())`,
		provider,
		eventID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim webhook event", err)
	}
	return true, nil
}

// Release withdraws a previously taken claim. Called when processing fails
// after the claim, so the provider's redelivery is not mistaken for a
// duplicate.
func (r *WebhookEventRepository) Release(ctx context.Context, provider types.PaymentProvider, eventID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`,
		provider,
		eventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release webhook event", err)
	}
	return nil
}
