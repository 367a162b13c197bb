package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest creates a credentialed identity directly.
type RegisterRequest struct {
	FullName string `json:"name"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=student admin"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RequestOTPRequest starts (or restarts) email verification.
type RequestOTPRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"name"`
	Password string `json:"password" validate:"required,min=6"`
}

// VerifyOTPRequest confirms a previously issued code.
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

// CompleteProfileRequest finishes signup after verification.
type CompleteProfileRequest struct {
	Email         string `json:"email" validate:"required,email"`
	FullName      string `json:"fullName" validate:"required"`
	Role          string `json:"role" validate:"omitempty,oneof=student admin"`
	Discipline    string `json:"discipline"`
	Batch         string `json:"batch"`
	RollNo        string `json:"rollNo"`
	PhoneNumber   string `json:"phoneNumber"`
	Semester      string `json:"semester"`
	DateOfJoining string `json:"dateOfJoining"` // YYYY-MM-DD
}

// AuthResponse returns the issued session token and the sanitized identity.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	IssuedAt  time.Time `json:"issued_at"`
	User      *User     `json:"user,omitempty"`
	Role      UserRole  `json:"role"`
}

// JWTClaims represents the session token payload.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	jwt.RegisteredClaims
}

// SignupClaims is the short-lived assertion carried between the Google
// callback and signup completion.
type SignupClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	GoogleID string `json:"google_id"`
	jwt.RegisteredClaims
}
