package core

import (
	"crypto/subtle"
	"net/http"

	"zecu/internal/types"
)

// SessionCookieName is the HttpOnly cookie carrying the signed session token.
const SessionCookieName = "session_token"

// SessionMiddleware resolves the session cookie into SessionClaims on the
// request context. Resolution is non-fatal: requests without a cookie, or
// with an invalid or expired token, continue unauthenticated and downstream
// RequireSession produces the 401. This lets mixed routes (rate limiting by
// user when possible, by IP otherwise) share one chain.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.Tokens.Parse(cookie.Value)
		if err != nil {
			// An invalid token is indistinguishable from no token for
			// everything downstream; log at debug only.
			s.Logger.Debug("session token rejected", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		ctx := types.WithSession(r.Context(), *claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests that did not resolve a valid session.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := types.GetSession(r.Context()); !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthRequired, "authentication required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAPIKey guards the internal endpoints consumed by the WhatsApp bot.
// The key travels in the X-API-Key header and is compared in constant time.
func (s *Server) RequireAPIKey(next http.Handler) http.Handler {
	expected := []byte(s.Config.Security.InternalAPIKey.Unmask())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := []byte(r.Header.Get("X-API-Key"))
		if len(provided) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			Error(w, r, types.NewAppError(types.ErrCodePermissionDenied, "invalid API key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
