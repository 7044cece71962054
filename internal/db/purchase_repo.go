package db

import (
	"context"

	"zecu/internal/types"
)

// PurchaseRepository provides data access for the purchases table, the
// durable record of each reconciled payment.
type PurchaseRepository struct {
	db DBTX
}

// NewPurchaseRepository creates a new PurchaseRepository backed by the given
// database connection (pool or transaction).
func NewPurchaseRepository(db DBTX) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create persists one purchase. Duplicate (provider, external_id) pairs are
// tolerated as conflicts so a replayed webhook cannot double-record.
func (r *PurchaseRepository) Create(ctx context.Context, p *types.Purchase) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO purchases (id, user_id, provider, external_id, plan, amount_cents, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		p.ID,
		p.UserID,
		p.Provider,
		p.ExternalID,
		p.Plan,
		p.AmountCents,
		nilIfEmpty(p.Currency),
		nilIfZeroTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicateEvent, "purchase already recorded", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record purchase", err)
	}
	return nil
}
