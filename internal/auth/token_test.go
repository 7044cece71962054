package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zecu/internal/types"
)

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

func TestTokenService_IssueAndParse(t *testing.T) {
	svc := NewTokenService(testJWTSecret, 7*24*time.Hour)

	token, expiresAt, err := svc.Issue(types.SessionClaims{
		UserID: "user_1",
		Phone:  "+5491134567890",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", claims.UserID)
	assert.Equal(t, "+5491134567890", claims.Phone)
}

func TestTokenService_Parse_Expired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issuer := NewTokenService(testJWTSecret, time.Hour)
	issuer.clock = fakeClock{now: issued}

	token, _, err := issuer.Issue(types.SessionClaims{UserID: "user_1", Phone: "+5491134567890"})
	require.NoError(t, err)

	parser := NewTokenService(testJWTSecret, time.Hour)
	parser.clock = fakeClock{now: issued.Add(2 * time.Hour)}

	_, err = parser.Parse(token)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenExpired, appErr.Code)
}

func TestTokenService_Parse_WrongSecret(t *testing.T) {
	issuer := NewTokenService(testJWTSecret, time.Hour)
	token, _, err := issuer.Issue(types.SessionClaims{UserID: "user_1", Phone: "+5491134567890"})
	require.NoError(t, err)

	other := NewTokenService([]byte("another-secret-another-secret-32"), time.Hour)
	_, err = other.Parse(token)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestTokenService_Parse_Garbage(t *testing.T) {
	svc := NewTokenService(testJWTSecret, time.Hour)

	_, err := svc.Parse("not.a.token")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestTokenService_Parse_EmptyUserID(t *testing.T) {
	svc := NewTokenService(testJWTSecret, time.Hour)

	token, _, err := svc.Issue(types.SessionClaims{UserID: "", Phone: "+5491134567890"})
	require.NoError(t, err)

	_, err = svc.Parse(token)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}
