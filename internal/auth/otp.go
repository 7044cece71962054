package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"zecu/internal/types"
)

// OTPStore is the persistence surface the OTP flow needs. Satisfied by
// db.OTPRepository.
type OTPStore interface {
	Create(ctx context.Context, otp *types.OTPCode) error
	GetActive(ctx context.Context, phone string) (*types.OTPCode, error)
	MarkVerified(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) error
}

// UserStore is the subset of user persistence the OTP flow needs. Satisfied
// by db.UserRepository.
type UserStore interface {
	GetByPhone(ctx context.Context, phone string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	Create(ctx context.Context, user *types.User) error
	UpdateLastLogin(ctx context.Context, userID string) error
}

// CodeDispatcher delivers a generated code to the user's WhatsApp number.
// Satisfied by external.N8NClient.
type CodeDispatcher interface {
	SendOTP(ctx context.Context, phone, name, code string, expiresIn time.Duration) error
}

// CodeGenerator produces login codes. Injected so tests can pin the code.
type CodeGenerator interface {
	Generate() string
}

// RandomCodeGenerator produces uniform 6-digit codes. The codes gate a
// short-lived, attempt-limited login window, not a cryptographic secret;
// math/rand keeps generation allocation-free and is sufficient for that
// threat model combined with the 5-minute expiry and 3-attempt ceiling.
type RandomCodeGenerator struct{}

// Generate returns a zero-padded 6-digit code.
func (RandomCodeGenerator) Generate() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}

// OTPService orchestrates the send and verify halves of the passwordless
// login flow.
type OTPService struct {
	otps     OTPStore
	users    UserStore
	dispatch CodeDispatcher
	codes    CodeGenerator
	clock    types.Clock
	ttl      time.Duration
	logger   *slog.Logger
}

// NewOTPService wires an OTPService with production collaborators.
func NewOTPService(otps OTPStore, users UserStore, dispatch CodeDispatcher, ttl time.Duration, logger *slog.Logger) *OTPService {
	return &OTPService{
		otps:     otps,
		users:    users,
		dispatch: dispatch,
		codes:    RandomCodeGenerator{},
		clock:    types.RealClock{},
		ttl:      ttl,
		logger:   logger,
	}
}

// SendResult reports the outcome of a send operation.
type SendResult struct {
	IsNewUser bool
	ExpiresIn time.Duration
}

// Send generates a fresh code for the phone, persists it, and dispatches it
// over WhatsApp. Unknown phones get a user record created on the spot (free
// plan) so the verify step always has an account to log into.
//
// The persisted code outlives a dispatch failure: if delivery errors the
// caller gets ErrCodeDispatchFailed but the row stays live, so a retried
// send or a code obtained out-of-band still verifies.
func (s *OTPService) Send(ctx context.Context, rawPhone, name string) (*SendResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	result := &SendResult{ExpiresIn: s.ttl}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
			return nil, err
		}
		user = &types.User{
			ID:    uuid.NewString(),
			Phone: phone,
			Name:  name,
			Plan:  types.PlanFree,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
		result.IsNewUser = true
	}

	now := s.clock.Now()
	otp := &types.OTPCode{
		ID:        uuid.NewString(),
		Phone:     phone,
		Code:      s.codes.Generate(),
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return nil, err
	}

	displayName := user.Name
	if displayName == "" {
		displayName = name
	}
	if err := s.dispatch.SendOTP(ctx, phone, displayName, otp.Code, s.ttl); err != nil {
		s.logger.Error("otp dispatch failed", "phone", maskPhone(phone), "error", err)
		return nil, types.NewAppError(types.ErrCodeDispatchFailed, "could not send verification code", err)
	}

	s.logger.Info("otp sent", "phone", maskPhone(phone), "new_user", result.IsNewUser)
	return result, nil
}

// VerifyByPhone checks the submitted code against the most recent live code
// for the phone. Every failure mode -- no live code, expired, exhausted
// attempts, wrong digits -- surfaces the same generic ErrCodeAuthInvalidOTP
// so callers cannot probe which codes exist.
func (s *OTPService) VerifyByPhone(ctx context.Context, rawPhone, code string) (*types.User, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, phone, code)
}

// VerifyByEmail resolves the account by email and verifies against that
// account's phone. Kept for clients that collected an email during signup.
func (s *OTPService) VerifyByEmail(ctx context.Context, email, code string) (*types.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			return nil, types.NewAppError(types.ErrCodeAuthInvalidOTP, "invalid code", nil)
		}
		return nil, err
	}
	return s.verify(ctx, user.Phone, code)
}

func (s *OTPService) verify(ctx context.Context, phone, code string) (*types.User, error) {
	otp, err := s.otps.GetActive(ctx, phone)
	if err != nil {
		return nil, err
	}

	if otp.Attempts >= types.MaxOTPAttempts {
		return nil, types.NewAppError(types.ErrCodeAuthInvalidOTP, "invalid code", nil)
	}

	if subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) != 1 {
		if err := s.otps.IncrementAttempts(ctx, otp.ID); err != nil {
			s.logger.Error("failed to record otp attempt", "error", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthInvalidOTP, "invalid code", nil)
	}

	if err := s.otps.MarkVerified(ctx, otp.ID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Error("failed to update last login", "user_id", user.ID, "error", err)
	}

	s.logger.Info("otp verified", "user_id", user.ID)
	return user, nil
}

// maskPhone hides the middle of a phone number for log output.
func maskPhone(phone string) string {
	if len(phone) <= 6 {
		return "***"
	}
	return phone[:4] + "****" + phone[len(phone)-2:]
}
