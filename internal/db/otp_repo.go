package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"zecu/internal/types"
)

// OTPRepository provides data access for the otp_codes table.
//
// Rows are append-only from the application's point of view: codes are never
// hard-deleted, and lookups always filter verified = false AND
// expires_at > now(), so a stale or exhausted code simply stops matching.
type OTPRepository struct {
	db DBTX
}

// NewOTPRepository creates a new OTPRepository backed by the given database
// connection (pool or transaction).
func NewOTPRepository(db DBTX) *OTPRepository {
	return &OTPRepository{db: db}
}

// Create persists a freshly generated code.
func (r *OTPRepository) Create(ctx context.Context, otp *types.OTPCode) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO otp_codes (id, phone, code, expires_at, verified, attempts, created_at)
		 VALUES ($1, $2, $3, $4, false, 0, COALESCE($5, NOW()))`,
		otp.ID,
		otp.Phone,
		otp.Code,
		otp.ExpiresAt,
		nilIfZeroTime(otp.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create OTP code", err)
	}
	return nil
}

// GetActive returns the most recent unverified, unexpired code for the phone.
// Returns ErrCodeAuthInvalidOTP when no live code exists -- callers surface
// the same generic failure for "expired", "wrong code", and "too many
// attempts" to avoid enumeration.
func (r *OTPRepository) GetActive(ctx context.Context, phone string) (*types.OTPCode, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, phone, code, expires_at, verified, attempts, created_at
		 FROM otp_codes
		 WHERE phone = $1 AND verified = false AND expires_at > NOW()
		 ORDER BY created_at DESC
		 LIMIT 1`,
		phone,
	)

	var otp types.OTPCode
	err := row.Scan(
		&otp.ID,
		&otp.Phone,
		&otp.Code,
		&otp.ExpiresAt,
		&otp.Verified,
		&otp.Attempts,
		&otp.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthInvalidOTP, "invalid code", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve OTP code", err)
	}
	return &otp, nil
}

// MarkVerified flips the code to verified=true. The row is kept as a
// historical record.
func (r *OTPRepository) MarkVerified(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE otp_codes SET verified = true WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark OTP verified", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthInvalidOTP, "invalid code", nil)
	}
	return nil
}

// IncrementAttempts bumps the failed-verification counter for the code.
// Issued as a separate statement from the lookup; the attempt ceiling is
// enforced by the service on the value read, not by the database.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE otp_codes SET attempts = attempts + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment OTP attempts", err)
	}
	return nil
}
