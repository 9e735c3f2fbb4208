package auth

import "time"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleStaff  Role = "STAFF"
	RoleClient Role = "CLIENT"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Role               Role
	IsActive           bool
	MustChangePassword bool
	CreatedAt          time.Time
}

// RegisterRequest contains staff account data supplied by an administrator.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SetPasswordRequest redeems an invite token for a new password.
type SetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}
