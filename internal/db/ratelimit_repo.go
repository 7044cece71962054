package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"zecu/internal/types"
)

// RateLimitRepository provides data access for the rate_limits table.
//
// The limiter is a fixed-window counter with one row per allowed request:
// window occupancy is COUNT(*) over rows whose window_start falls inside the
// current window. Rows are append-only and garbage-collected opportunistically
// after 24 hours to bound table growth.
type RateLimitRepository struct {
	db DBTX
}

// NewRateLimitRepository creates a new RateLimitRepository backed by the
// given database connection (pool or transaction).
func NewRateLimitRepository(db DBTX) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// CountSince returns the number of requests recorded for (identifier,
// endpoint) with window_start at or after the given instant.
func (r *RateLimitRepository) CountSince(ctx context.Context, identifier, endpoint string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM rate_limits
		 WHERE identifier = $1 AND endpoint = $2 AND window_start >= $3`,
		identifier,
		endpoint,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count rate limit records", err)
	}
	return count, nil
}

// OldestSince returns the window_start of the oldest record inside the
// current window. Used to compute Retry-After for denied requests.
func (r *RateLimitRepository) OldestSince(ctx context.Context, identifier, endpoint string, since time.Time) (time.Time, error) {
	var oldest time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MIN(window_start) FROM rate_limits
		 WHERE identifier = $1 AND endpoint = $2 AND window_start >= $3`,
		identifier,
		endpoint,
		since,
	).Scan(&oldest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to find oldest rate limit record", err)
	}
	return oldest, nil
}

// Record inserts one row for an allowed request.
func (r *RateLimitRepository) Record(ctx context.Context, identifier, endpoint string, windowStart time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO rate_limits (identifier, endpoint, window_start) VALUES ($1, $2, $3)`,
		identifier,
		endpoint,
		windowStart,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record rate limit entry", err)
	}
	return nil
}

// DeleteOlderThan removes records below the retention floor.
func (r *RateLimitRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM rate_limits WHERE window_start < $1`,
		cutoff,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to prune rate limit records", err)
	}
	return nil
}
