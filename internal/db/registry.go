package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories bundles every repository over a shared pgx pool. Built once
// in main and handed to the server; tests construct the individual
// repositories over a mock DBTX instead.
type Repositories struct {
	Users         *UserRepository
	OTPs          *OTPRepository
	Consultas     *ConsultaRepository
	RateLimits    *RateLimitRepository
	Purchases     *PurchaseRepository
	WebhookEvents *WebhookEventRepository

	pool *pgxpool.Pool
}

// NewRepositories wires all repositories over the given pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Users:         NewUserRepository(pool),
		OTPs:          NewOTPRepository(pool),
		Consultas:     NewConsultaRepository(pool),
		RateLimits:    NewRateLimitRepository(pool),
		Purchases:     NewPurchaseRepository(pool),
		WebhookEvents: NewWebhookEventRepository(pool),
		pool:          pool,
	}
}

// Ping verifies database connectivity. Used by the health endpoint.
func (r *Repositories) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (r *Repositories) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
