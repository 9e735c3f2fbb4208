package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"creditflow/db"
)

var (
	// ErrInvalidCredentials signals wrong email or password, or an inactive account.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrValidation signals a malformed request.
	ErrValidation = errors.New("auth: validation failed")
)

const minPasswordLength = 8

// Service handles authentication business logic.
type Service struct {
	pool      db.TxBeginner
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	inviteTTL time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(pool db.TxBeginner, repo Repository, jwtSecret string) *Service {
	return &Service{
		pool:      pool,
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
		inviteTTL: 24 * time.Hour,
		now:       time.Now,
	}
}

// WithClock overrides the time source used for token issue and expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithTTLs overrides session token and invite token lifetimes.
func (s *Service) WithTTLs(token, invite time.Duration) *Service {
	if token > 0 {
		s.tokenTTL = token
	}
	if invite > 0 {
		s.inviteTTL = invite
	}
	return s
}

// Register creates an active staff or admin account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}

	role := Role(strings.ToUpper(strings.TrimSpace(string(req.Role))))
	if role == "" {
		role = RoleStaff
	}
	if role != RoleAdmin && role != RoleStaff {
		return nil, fmt.Errorf("%w: role %q cannot be registered", ErrValidation, role)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := s.repo.CreateUser(ctx, tx, CreateUserParams{
		Email:        email,
		PasswordHash: string(passwordHash),
		Role:         role,
		IsActive:     true,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("auth: commit tx: %w", err)
	}
	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.IsActive {
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// InvitePortalUser creates an inactive CLIENT user bound to clientID and
// returns the raw invite token to mail out. It runs on the caller's transaction.
func (s *Service) InvitePortalUser(ctx context.Context, q db.Querier, email, clientID string) (User, string, error) {
	email = normalizeEmail(email)
	if email == "" || clientID == "" {
		return User{}, "", fmt.Errorf("%w: email and client id are required", ErrValidation)
	}

	// The placeholder password is never disclosed; the account stays
	// inactive until the invite is redeemed.
	placeholder, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return User{}, "", fmt.Errorf("auth: hash placeholder: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, q, CreateUserParams{
		Email:              email,
		PasswordHash:       string(placeholder),
		Role:               RoleClient,
		IsActive:           false,
		MustChangePassword: true,
	})
	if err != nil {
		return User{}, "", err
	}

	if err := s.repo.LinkPortalUser(ctx, q, user.ID, clientID); err != nil {
		return User{}, "", err
	}

	raw, err := s.CreateInviteToken(ctx, q, user.ID)
	if err != nil {
		return User{}, "", err
	}
	return user, raw, nil
}

// CreateInviteToken stores the hash of a fresh random token and returns the raw value.
func (s *Service) CreateInviteToken(ctx context.Context, q db.Querier, userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate invite token: %w", err)
	}
	raw := hex.EncodeToString(buf)

	if err := s.repo.CreateInviteToken(ctx, q, userID, HashToken(raw), s.now().Add(s.inviteTTL)); err != nil {
		return "", err
	}
	return raw, nil
}

// SetPasswordFromInvite redeems an invite token, sets the password and
// activates the account.
func (s *Service) SetPasswordFromInvite(ctx context.Context, req SetPasswordRequest) error {
	if strings.TrimSpace(req.Token) == "" {
		return ErrInvalidInvite
	}
	if len(req.Password) < minPasswordLength {
		return ErrWeakPassword
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	userID, err := s.repo.ConsumeInviteToken(ctx, tx, HashToken(req.Token), s.now())
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, tx, userID, string(passwordHash)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("auth: commit tx: %w", err)
	}
	return nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT token and returns the user ID and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["sub"].(string)
		if !ok || userID == "" {
			return "", "", fmt.Errorf("auth: invalid subject in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid role in token")
		}
		role := Role(roleStr)
		if !IsValidRole(role) {
			return "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
		}
		return userID, role, nil
	}

	return "", "", fmt.Errorf("auth: invalid token")
}

func (s *Service) generateToken(user User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"exp":   now.Add(s.tokenTTL).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// HashToken returns the hex sha256 digest stored in place of a raw invite token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsValidRole reports whether role is one of the known roles.
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleStaff, RoleClient:
		return true
	default:
		return false
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
