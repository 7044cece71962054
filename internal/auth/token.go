package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"zecu/internal/types"
)

// sessionTokenClaims is the JWT payload of a session token. Field names
// match what the WhatsApp bot and web frontend already decode.
type sessionTokenClaims struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256-signed session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	clock  types.Clock
}

// NewTokenService creates a TokenService. The secret must be at least 32
// bytes; config validation enforces that before this is ever called.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: secret,
		ttl:    ttl,
		clock:  types.RealClock{},
	}
}

// Issue signs a session token for the user. Returns the compact token and
// its absolute expiry.
func (s *TokenService) Issue(claims types.SessionClaims) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionTokenClaims{
		UserID: claims.UserID,
		Phone:  claims.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to sign session token", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a compact token and returns its claims. Expired tokens
// map to ErrCodeAuthTokenExpired; every other failure (bad signature,
// malformed token, wrong algorithm) maps to ErrCodeAuthTokenInvalid.
func (s *TokenService) Parse(tokenString string) (*types.SessionClaims, error) {
	var claims sessionTokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "session expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid session token", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid session token", nil)
	}

	return &types.SessionClaims{
		UserID: claims.UserID,
		Phone:  claims.Phone,
	}, nil
}
