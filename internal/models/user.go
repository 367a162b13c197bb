package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleStudent UserRole = "student"
)

// Valid reports whether the role is part of the canonical enumeration.
func (r UserRole) Valid() bool {
	return r == RoleAdmin || r == RoleStudent
}

// User represents an identity stored in the users table. Exactly one of
// PasswordHash and GoogleID may be empty, never both.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	GoogleID     string     `db:"google_id" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Picture      string     `db:"picture" json:"picture,omitempty"`
	Role         UserRole   `db:"role" json:"role"`
	Verified     bool       `db:"verified" json:"verified"`
	OTPCode      *string    `db:"otp_code" json:"-"`
	OTPExpires   *time.Time `db:"otp_expires" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	// Profile is present for students only and cleared when the role
	// changes to admin.
	Profile *StudentProfile `json:"profile,omitempty"`
}

// StudentProfile carries the student-only fields of an identity.
type StudentProfile struct {
	Discipline    string     `db:"discipline" json:"discipline,omitempty"`
	Batch         string     `db:"batch" json:"batch,omitempty"`
	RollNo        string     `db:"roll_no" json:"roll_no,omitempty"`
	PhoneNumber   string     `db:"phone_number" json:"phone_number,omitempty"`
	Semester      string     `db:"semester" json:"semester,omitempty"`
	DateOfJoining *time.Time `db:"date_of_joining" json:"date_of_joining,omitempty"`
}

// UserRef is the sanitized identity summary embedded in task and project
// payloads.
type UserRef struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Verified *bool
	Search   string
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
