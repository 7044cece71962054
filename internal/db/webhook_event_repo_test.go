package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zecu/internal/types"
)

func TestWebhookEventRepository_Claim_FirstDelivery(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{types.ProviderMercadoPago, "12345"}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	first, err := repo.Claim(context.Background(), types.ProviderMercadoPago, "12345")
	require.NoError(t, err)
	assert.True(t, first)
	db.AssertExpectations(t)
}

func TestWebhookEventRepository_Claim_DuplicateDelivery(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)

	pgErr := &pgconn.PgError{Code: "23505"}
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, pgErr)

	first, err := repo.Claim(context.Background(), types.ProviderPolar, "evt_abc")
	require.NoError(t, err)
	assert.False(t, first)
	db.AssertExpectations(t)
}

func TestWebhookEventRepository_Release_DeletesClaim(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{types.ProviderMercadoPago, "12345"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	err := repo.Release(context.Background(), types.ProviderMercadoPago, "12345")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestWebhookEventRepository_Release_DatabaseFailure(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := repo.Release(context.Background(), types.ProviderPolar, "evt_abc")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestWebhookEventRepository_Claim_DatabaseFailure(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	first, err := repo.Claim(context.Background(), types.ProviderMercadoPago, "12345")
	require.Error(t, err)
	assert.False(t, first)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}
