package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LoginInput is the credential payload of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Principal is what a successful login returns to the client.
type Principal struct {
	UserID       int64    `json:"user_id"`
	Email        string   `json:"email"`
	Capabilities []string `json:"capabilities"`
}
