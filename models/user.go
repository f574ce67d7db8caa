package models

import (
	"strings"
	"time"
)

// User represents an account that can sign in with email and password
type User struct {
	ID             int64     `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	HashedPassword string    `json:"-" db:"hashed_password"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new active User instance. The ID is assigned by the store.
func NewUser(email, hashedPassword string) *User {
	now := time.Now().UTC()
	return &User{
		Email:          NormalizeEmail(email),
		HashedPassword: hashedPassword,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NormalizeEmail lowercases and trims an email address for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72,password"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// PasswordResetRequest is the body of POST /auth/password-reset
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

// ToResponse converts the user to its public view
func (u *User) ToResponse() UserResponse {
	return UserResponse{UserID: u.ID, Email: u.Email}
}
