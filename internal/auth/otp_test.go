package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zecu/internal/types"
)

// --- Mocks ---

type mockOTPStore struct {
	mock.Mock
}

func (m *mockOTPStore) Create(ctx context.Context, otp *types.OTPCode) error {
	return m.Called(ctx, otp).Error(0)
}

func (m *mockOTPStore) GetActive(ctx context.Context, phone string) (*types.OTPCode, error) {
	args := m.Called(ctx, phone)
	if otp := args.Get(0); otp != nil {
		return otp.(*types.OTPCode), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPStore) MarkVerified(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockOTPStore) IncrementAttempts(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) GetByPhone(ctx context.Context, phone string) (*types.User, error) {
	args := m.Called(ctx, phone)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserStore) Create(ctx context.Context, user *types.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserStore) UpdateLastLogin(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) SendOTP(ctx context.Context, phone, name, code string, expiresIn time.Duration) error {
	return m.Called(ctx, phone, name, code, expiresIn).Error(0)
}

type fixedCodeGenerator struct {
	code string
}

func (g fixedCodeGenerator) Generate() string { return g.code }

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOTPService(otps *mockOTPStore, users *mockUserStore, dispatch *mockDispatcher) *OTPService {
	svc := NewOTPService(otps, users, dispatch, 5*time.Minute, testLogger())
	svc.codes = fixedCodeGenerator{code: "123456"}
	svc.clock = fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return svc
}

// --- Send ---

func TestOTPService_Send_ExistingUser(t *testing.T) {
	otps := new(mockOTPStore)
	users := new(mockUserStore)
	dispatch := new(mockDispatcher)
	svc := newTestOTPService(otps, users, dispatch)
	ctx := context.Background()

	users.On("GetByPhone", ctx, "+5491134567890").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890", Name: "Ana"}, nil)
	otps.On("Create", ctx, mock.MatchedBy(func(otp *types.OTPCode) bool {
		return otp.Phone == "+5491134567890" && otp.Code == "123456"
	})).Return(nil)
	dispatch.On("SendOTP", ctx, "+5491134567890", "Ana", "123456", 5*time.Minute).Return(nil)

	result, err := svc.Send(ctx, "+54 11 3456-7890", "")
	require.NoError(t, err)
	assert.False(t, result.IsNewUser)
	assert.Equal(t, 5*time.Minute, result.ExpiresIn)
	otps.AssertExpectations(t)
	users.AssertExpectations(t)
	dispatch.AssertExpectations(t)
}

func TestOTPService_Send_CreatesUnknownUser(t *testing.T) {
	otps := new(mockOTPStore)
	users := new(mockUserStore)
	dispatch := new(mockDispatcher)
	svc := newTestOTPService(otps, users, dispatch)
	ctx := context.Background()

	users.On("GetByPhone", ctx, "+5491134567890").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
	users.On("Create", ctx, mock.MatchedBy(func(u *types.User) bool {
		return u.Phone == "+5491134567890" && u.Name == "Ana" && u.Plan == types.PlanFree && u.ID != ""
	})).Return(nil)
	otps.On("Create", ctx, mock.Anything).Return(nil)
	dispatch.On("SendOTP", ctx, "+5491134567890", "Ana", "123456", 5*time.Minute).Return(nil)

	result, err := svc.Send(ctx, "+5491134567890", "Ana")
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
	users.AssertExpectations(t)
}

func TestOTPService_Send_DispatchFailureKeepsCode(t *testing.T) {
	otps := new(mockOTPStore)
	users := new(mockUserStore)
	dispatch := new(mockDispatcher)
	svc := newTestOTPService(otps, users, dispatch)
	ctx := context.Background()

	users.On("GetByPhone", ctx, "+5491134567890").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	otps.On("Create", ctx, mock.Anything).Return(nil)
	dispatch.On("SendOTP", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("webhook timeout"))

	_, err := svc.Send(ctx, "+5491134567890", "")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeDispatchFailed, appErr.Code)

	// The code row was persisted before dispatch was attempted.
	otps.AssertCalled(t, "Create", ctx, mock.Anything)
}

func TestOTPService_Send_InvalidPhone(t *testing.T) {
	svc := newTestOTPService(new(mockOTPStore), new(mockUserStore), new(mockDispatcher))

	_, err := svc.Send(context.Background(), "not-a-phone", "")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidPhone, appErr.Code)
}

// --- Verify ---

func TestOTPService_VerifyByPhone_Success(t *testing.T) {
	otps := new(mockOTPStore)
	users := new(mockUserStore)
	svc := newTestOTPService(otps, users, new(mockDispatcher))
	ctx := context.Background()

	otps.On("GetActive", ctx, "+5491134567890").
		Return(&types.OTPCode{ID: "otp_1", Phone: "+5491134567890", Code: "123456", Attempts: 0}, nil)
	otps.On("MarkVerified", ctx, "otp_1").Return(nil)
	users.On("GetByPhone", ctx, "+5491134567890").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	users.On("UpdateLastLogin", ctx, "user_1").Return(nil)

	user, err := svc.VerifyByPhone(ctx, "+5491134567890", "123456")
	require.NoError(t, err)
	assert.Equal(t, "user_1", user.ID)
	otps.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestOTPService_VerifyByPhone_WrongCode(t *testing.T) {
	otps := new(mockOTPStore)
	users := new(mockUserStore)
	svc := newTestOTPService(otps, users, new(mockDispatcher))
	ctx := context.Background()

	otps.On("GetActive", ctx, "+5491134567890").
		Return(&types.OTPCode{ID: "otp_1", Code: "123456", Attempts: 1}, nil)
	otps.On("IncrementAttempts", ctx, "otp_1").Return(nil)

	_, err := svc.VerifyByPhone(ctx, "+5491134567890", "654321")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthInvalidOTP, appErr.Code)
	otps.AssertExpectations(t)
}

func TestOTPService_VerifyByPhone_AttemptsExhausted(t *testing.T) {
	otps := new(mockOTPStore)
	svc := newTestOTPService(otps, new(mockUserStore), new(mockDispatcher))
	ctx := context.Background()

	otps.On("GetActive", ctx, "+5491134567890").
		Return(&types.OTPCode{ID: "otp_1", Code: "123456", Attempts: types.MaxOTPAttempts}, nil)

	// The correct code is submitted, but the attempt limit is already spent.
	_, err := svc.VerifyByPhone(ctx, "+5491134567890", "123456")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthInvalidOTP, appErr.Code)
	otps.AssertNotCalled(t, "IncrementAttempts", mock.Anything, mock.Anything)
	otps.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything)
}

func TestOTPService_VerifyByEmail_UnknownEmail(t *testing.T) {
	users := new(mockUserStore)
	svc := newTestOTPService(new(mockOTPStore), users, new(mockDispatcher))
	ctx := context.Background()

	users.On("GetByEmail", ctx, "nobody@example.com").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))

	_, err := svc.VerifyByEmail(ctx, "nobody@example.com", "123456")
	require.Error(t, err)

	// Unknown emails surface the same generic error as a wrong code.
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthInvalidOTP, appErr.Code)
}

func TestOTPService_VerifyByEmail_Success(t *testing.T) {
	otps := new(mockOTPStore)
	users := new(mockUserStore)
	svc := newTestOTPService(otps, users, new(mockDispatcher))
	ctx := context.Background()

	users.On("GetByEmail", ctx, "ana@example.com").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890", Email: "ana@example.com"}, nil)
	otps.On("GetActive", ctx, "+5491134567890").
		Return(&types.OTPCode{ID: "otp_1", Code: "123456"}, nil)
	otps.On("MarkVerified", ctx, "otp_1").Return(nil)
	users.On("GetByPhone", ctx, "+5491134567890").
		Return(&types.User{ID: "user_1", Phone: "+5491134567890"}, nil)
	users.On("UpdateLastLogin", ctx, "user_1").Return(nil)

	user, err := svc.VerifyByEmail(ctx, "ana@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "user_1", user.ID)
}
