package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
	// ErrInvalidInvite signals an unknown, used, or expired invite token.
	ErrInvalidInvite = errors.New("auth: invalid or expired token")
)

// Repository handles data access for authentication.
// Methods taking a db.Querier run on whatever transaction the caller holds.
type Repository interface {
	CreateUser(ctx context.Context, q db.Querier, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	LinkPortalUser(ctx context.Context, q db.Querier, userID, clientID string) error
	CreateInviteToken(ctx context.Context, q db.Querier, userID, tokenHash string, expiresAt time.Time) error
	ConsumeInviteToken(ctx context.Context, q db.Querier, tokenHash string, now time.Time) (string, error)
	SetPassword(ctx context.Context, q db.Querier, userID, passwordHash string) error
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email              string
	PasswordHash       string
	Role               Role
	IsActive           bool
	MustChangePassword bool
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, role, is_active, must_change_password, created_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, q db.Querier, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (email, password_hash, role, is_active, must_change_password)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, insertSQL, params.Email, params.PasswordHash, params.Role, params.IsActive, params.MustChangePassword))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// LinkPortalUser binds a CLIENT user to the client record it may see.
func (r *PGRepository) LinkPortalUser(ctx context.Context, q db.Querier, userID, clientID string) error {
	const insertSQL = `INSERT INTO client_portal_links (user_id, client_id) VALUES ($1, $2)`
	if _, err := q.Exec(ctx, insertSQL, userID, clientID); err != nil {
		return fmt.Errorf("auth: link portal user: %w", err)
	}
	return nil
}

func (r *PGRepository) CreateInviteToken(ctx context.Context, q db.Querier, userID, tokenHash string, expiresAt time.Time) error {
	const insertSQL = `INSERT INTO invite_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`
	if _, err := q.Exec(ctx, insertSQL, userID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("auth: create invite token: %w", err)
	}
	return nil
}

// ConsumeInviteToken marks an unused, unexpired token as used and returns its user.
// The conditional update makes a token redeemable exactly once.
func (r *PGRepository) ConsumeInviteToken(ctx context.Context, q db.Querier, tokenHash string, now time.Time) (string, error) {
	const updateSQL = `
		UPDATE invite_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id
	`

	var userID string
	if err := q.QueryRow(ctx, updateSQL, tokenHash, now).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidInvite
		}
		return "", fmt.Errorf("auth: consume invite token: %w", err)
	}
	return userID, nil
}

// SetPassword stores a new hash and activates the account.
func (r *PGRepository) SetPassword(ctx context.Context, q db.Querier, userID, passwordHash string) error {
	const updateSQL = `
		UPDATE users
		SET password_hash = $2, is_active = TRUE, must_change_password = FALSE
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, updateSQL, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("auth: set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsActive,
		&user.MustChangePassword,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
