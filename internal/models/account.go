package models

import (
	"time"
)

// Role is the account role chosen at registration
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFaculty, RoleStudent:
		return true
	}
	return false
}

type Account struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	FacultyID    *string // set iff Role == faculty
	USN          *string // set iff Role == student
	OTPCode      *string
	OTPExpiresAt *time.Time
	IsVerified   bool
	IsApproved   bool
	Version      int64 // optimistic lock counter, bumped on every save
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsFaculty reports whether the account needs administrator approval
func (a *Account) IsFaculty() bool {
	return a.Role == RoleFaculty
}

// HasPendingOTP reports whether a code is attached and awaiting verification
func (a *Account) HasPendingOTP() bool {
	return a.OTPCode != nil && a.OTPExpiresAt != nil
}

// AttachOTP stores a freshly issued code with its expiry
func (a *Account) AttachOTP(code string, expiresAt time.Time) {
	a.OTPCode = &code
	a.OTPExpiresAt = &expiresAt
}

// MarkVerified clears OTP material, sets the verified flag and auto-approves
// every role except faculty.
func (a *Account) MarkVerified() {
	a.OTPCode = nil
	a.OTPExpiresAt = nil
	a.IsVerified = true
	if !a.IsFaculty() {
		a.IsApproved = true
	}
}

// CanLogin reports whether verification and (for faculty) approval are done
func (a *Account) CanLogin() bool {
	return a.IsVerified && (!a.IsFaculty() || a.IsApproved)
}
