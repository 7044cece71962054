package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zecu/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- OTPRepository Tests ---

func TestOTPRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOTPRepository(db)

	otp := &types.OTPCode{
		ID:        "otp_1",
		Phone:     "+5491134567890",
		Code:      "123456",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), otp)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestOTPRepository_GetActive_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOTPRepository(db)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(5 * time.Minute)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "otp_1"
			*dest[1].(*string) = "+5491134567890"
			*dest[2].(*string) = "123456"
			*dest[3].(*time.Time) = expires
			*dest[4].(*bool) = false
			*dest[5].(*int) = 1
			*dest[6].(*time.Time) = created
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"+5491134567890"}).Return(row)

	otp, err := repo.GetActive(ctx, "+5491134567890")
	require.NoError(t, err)
	assert.Equal(t, "otp_1", otp.ID)
	assert.Equal(t, "123456", otp.Code)
	assert.Equal(t, 1, otp.Attempts)
	assert.False(t, otp.Verified)
	db.AssertExpectations(t)
}

func TestOTPRepository_GetActive_NoLiveCode(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOTPRepository(db)
	ctx := context.Background()

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"+5491134567890"}).Return(row)

	_, err := repo.GetActive(ctx, "+5491134567890")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthInvalidOTP, appErr.Code)
	db.AssertExpectations(t)
}

func TestOTPRepository_MarkVerified_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOTPRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"otp_missing"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkVerified(context.Background(), "otp_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthInvalidOTP, appErr.Code)
	db.AssertExpectations(t)
}

func TestOTPRepository_IncrementAttempts_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOTPRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"otp_1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.IncrementAttempts(context.Background(), "otp_1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}
