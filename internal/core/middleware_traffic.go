package core

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zecu/internal/types"
)

// RateLimitStore is the persistence surface of the fixed-window limiter.
// Satisfied by db.RateLimitRepository.
type RateLimitStore interface {
	CountSince(ctx context.Context, identifier, endpoint string, since time.Time) (int, error)
	OldestSince(ctx context.Context, identifier, endpoint string, since time.Time) (time.Time, error)
	Record(ctx context.Context, identifier, endpoint string, windowStart time.Time) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}

// limitRule is one endpoint category's window configuration.
type limitRule struct {
	Max    int
	Window time.Duration
}

// limitRules maps endpoint categories to their fixed windows. Categories are
// route-level labels, not raw paths, so a rename does not reset counters.
var limitRules = map[string]limitRule{
	"auth-send-otp":         {Max: 3, Window: 5 * time.Minute},
	"auth-verify-otp":       {Max: 5, Window: 5 * time.Minute},
	"create-payment":        {Max: 5, Window: 5 * time.Minute},
	"polar-create-checkout": {Max: 5, Window: 5 * time.Minute},
	"consultas":             {Max: 30, Window: time.Minute},
}

// defaultLimitRule applies to any category not listed above.
var defaultLimitRule = limitRule{Max: 60, Window: time.Minute}

// rateLimitRetention is how long allowed-request rows are kept before the
// opportunistic garbage collection removes them.
const rateLimitRetention = 24 * time.Hour

// gcSampleRate is the denominator of the GC lottery: roughly one in this
// many rate-limited requests triggers a background prune.
const gcSampleRate = 100

// RateLimit enforces a fixed-window request limit for the given endpoint
// category, backed by one database row per allowed request.
//
// The identifier is "user:<id>" when a session resolved, otherwise
// "ip:<addr>", so authenticated users are limited individually even behind
// shared NATs. Store errors fail open: a database outage must not take the
// API down with it.
//
// Allowed responses carry X-RateLimit-Limit and X-RateLimit-Remaining.
// Denied responses add Retry-After, computed from when the oldest request in
// the window falls out of it (never below 1 second).
func (s *Server) RateLimit(category string) func(http.Handler) http.Handler {
	rule, ok := limitRules[category]
	if !ok {
		rule = defaultLimitRule
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.RateLimitStore == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			identifier := rateLimitIdentifier(r)
			now := time.Now().UTC()
			windowFloor := now.Add(-rule.Window)

			count, err := s.RateLimitStore.CountSince(ctx, identifier, category, windowFloor)
			if err != nil {
				// Fail open: a limiter outage must not block traffic.
				s.Logger.Error("rate limit store error",
					slog.String("identifier", identifier),
					slog.String("category", category),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if count >= rule.Max {
				s.Logger.Warn("rate limit exceeded",
					slog.String("identifier", identifier),
					slog.String("category", category),
					slog.Int("count", count),
				)

				retryAfter := 1
				if oldest, err := s.RateLimitStore.OldestSince(ctx, identifier, category, windowFloor); err == nil && !oldest.IsZero() {
					if secs := int(oldest.Add(rule.Window).Sub(now).Seconds()); secs > retryAfter {
						retryAfter = secs
					}
				}

				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Max))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				Error(w, r, types.NewAppError(types.ErrCodeRateLimit,
					"too many requests, please retry later", nil))
				return
			}

			if err := s.RateLimitStore.Record(ctx, identifier, category, now); err != nil {
				// Also fail open; the request has already been judged allowed.
				s.Logger.Error("rate limit record error",
					slog.String("identifier", identifier),
					slog.String("category", category),
					slog.String("error", err.Error()),
				)
			}

			remaining := rule.Max - count - 1
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			s.maybeCollectRateLimitGarbage()

			next.ServeHTTP(w, r)
		})
	}
}

// maybeCollectRateLimitGarbage prunes expired limiter rows on a lottery so
// no request pays the full delete cost and no separate scheduler is needed.
func (s *Server) maybeCollectRateLimitGarbage() {
	if rand.Intn(gcSampleRate) != 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cutoff := time.Now().UTC().Add(-rateLimitRetention)
		if err := s.RateLimitStore.DeleteOlderThan(ctx, cutoff); err != nil {
			s.Logger.Error("rate limit gc failed", "error", err)
		}
	}()
}

// rateLimitIdentifier keys the limiter by user when a session resolved and
// by client IP otherwise.
func rateLimitIdentifier(r *http.Request) string {
	if claims, ok := types.GetSession(r.Context()); ok {
		return "user:" + claims.UserID
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the originating address, preferring the proxy-supplied
// X-Forwarded-For (first entry) and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
