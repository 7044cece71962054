package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"zecu/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.phone, u.email, u.name, u.country, u.city,
	u.plan, u.plan_expires_at, u.polar_subscription_id, u.created_at, u.last_login_at`

// scanUser scans a single user row into a types.User struct.
// The columns must match the order defined in userColumns.
// Uses nullable scan targets for columns that may be NULL in the database.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		email   *string
		name    *string
		country *string
		city    *string
	)
	err := row.Scan(
		&u.ID,
		&u.Phone,
		&email,
		&name,
		&country,
		&city,
		&u.Plan,
		&u.PlanExpiresAt,
		&u.PolarSubscriptionID,
		&u.CreatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	if name != nil {
		u.Name = *name
	}
	if country != nil {
		u.Country = *country
	}
	if city != nil {
		u.City = *city
	}
	return &u, nil
}

// GetByID retrieves a user by its UUID.
// Returns ErrCodeNotFoundUser if no user is found.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByPhone retrieves a user by their normalized phone number.
// Returns ErrCodeNotFoundUser if no user is found.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.phone = $1`,
		phone,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by phone", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by their email address. Used by the legacy
// email-based OTP verification variant.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.email = $1`,
		email,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by email", err)
	}
	return u, nil
}

// Create inserts a new user row.
// Returns ErrCodeConflictDuplicateEvent mapped conflict on duplicate phone.
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, phone, email, name, country, city, plan, plan_expires_at, polar_subscription_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`,
		user.ID,
		user.Phone,
		nilIfEmpty(user.Email),
		nilIfEmpty(user.Name),
		nilIfEmpty(user.Country),
		nilIfEmpty(user.City),
		user.Plan,
		user.PlanExpiresAt,
		user.PolarSubscriptionID,
		nilIfZeroTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicateEvent, "user already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// UpdatePlan writes a new plan tier and expiry for the user.
// expiresAt may be nil for a non-expiring plan (free).
func (r *UserRepository) UpdatePlan(ctx context.Context, userID string, plan types.PlanTier, expiresAt *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET plan = $1, plan_expires_at = $2 WHERE id = $3`,
		plan,
		expiresAt,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdatePolarSubscription writes the plan, expiry, and Polar subscription ID
// in a single statement. Used by the Polar webhook reconciliation path.
func (r *UserRepository) UpdatePolarSubscription(ctx context.Context, userID string, plan types.PlanTier, expiresAt *time.Time, subscriptionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET plan = $1, plan_expires_at = $2, polar_subscription_id = $3 WHERE id = $4`,
		plan,
		expiresAt,
		nilIfEmpty(subscriptionID),
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update polar subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdateLastLogin updates the last_login_at timestamp for a user.
// Called after a successful OTP verification.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET last_login_at = NOW() WHERE id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last login", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
