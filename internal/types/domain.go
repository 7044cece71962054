package types

import "time"

// User is a registered Zecu account, keyed by phone number.
//
// PlanExpiresAt is nullable: nil means the plan does not expire (the free
// plan never does). A user with Plan == PlanPlus and a past PlanExpiresAt is
// treated as free by every reader -- expiry is lazy, never a write-time
// transition.
type User struct {
	ID                  string
	Phone               string
	Email               string
	Name                string
	Country             string
	City                string
	Plan                PlanTier
	PlanExpiresAt       *time.Time
	PolarSubscriptionID *string
	CreatedAt           time.Time
	LastLoginAt         *time.Time
}

// IsPlanExpired reports whether the user's paid plan has lapsed at the given
// instant. Free-plan users (and plus users without an expiry) never expire.
func (u *User) IsPlanExpired(now time.Time) bool {
	if u.Plan != PlanPlus || u.PlanExpiresAt == nil {
		return false
	}
	return now.After(*u.PlanExpiresAt)
}

// EffectivePlan resolves the lazy-expiry rule: a plus plan past its expiry
// reads as free.
func (u *User) EffectivePlan(now time.Time) PlanTier {
	if u.IsPlanExpired(now) {
		return PlanFree
	}
	return u.Plan
}

// OTPCode is a one-time login code sent over WhatsApp.
//
// Rows are never hard-deleted; lookups always filter on
// verified = false AND expires_at > now(). Attempts is incremented on each
// failed verification and the row is dead once it reaches MaxOTPAttempts.
type OTPCode struct {
	ID        string
	Phone     string
	Code      string
	ExpiresAt time.Time
	Verified  bool
	Attempts  int
	CreatedAt time.Time
}

// MaxOTPAttempts is the number of failed verifications after which a code is
// rejected regardless of correctness.
const MaxOTPAttempts = 3

// Consulta is one quota-tracked query analyzed by the external bot.
//
// Created with an empty Respuesta when the message is registered; updated
// exactly once (by convention, not enforcement) with the bot's answer and
// risk assessment. MesPeriodo is the client-computed "YYYY-MM" of the
// registration instant.
type Consulta struct {
	ID              string
	UserID          string
	Mensaje         string
	Respuesta       *string
	Tipo            ConsultaTipo
	RiesgoDetectado bool
	NivelRiesgo     *NivelRiesgo
	MesPeriodo      string
	CreatedAt       time.Time
}

// RateLimitRecord is one row per allowed request in the fixed-window rate
// limiter. Window occupancy is computed by counting rows with
// window_start >= now - window; rows older than 24h are garbage-collected
// opportunistically.
type RateLimitRecord struct {
	Identifier  string
	Endpoint    string
	WindowStart time.Time
}

// Purchase records one reconciled payment, correlated to a user via the
// provider's payment/checkout identifier.
type Purchase struct {
	ID          string
	UserID      string
	Provider    PaymentProvider
	ExternalID  string
	Plan        PlanTier
	AmountCents int64
	Currency    string
	CreatedAt   time.Time
}

// WebhookEvent is the idempotency guard for inbound provider notifications.
// (provider, event_id) carries a unique constraint; a handler claims the
// event before mutating plan state and treats a duplicate claim as
// already-processed.
type WebhookEvent struct {
	Provider   PaymentProvider
	EventID    string
	ReceivedAt time.Time
}

// SessionClaims is the payload carried by the signed session token.
type SessionClaims struct {
	UserID string
	Phone  string
}
