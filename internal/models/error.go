package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrDependency     = errors.New("dependency unavailable")
)

// kindError is a specific failure that also matches its general category with errors.Is
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// Registration and input validation
var (
	ErrMissingRole           = newKindError(ErrBadRequest, "role is required")
	ErrInvalidRole           = newKindError(ErrBadRequest, "role must be admin, faculty or student")
	ErrMissingRoleIdentifier = newKindError(ErrBadRequest, "role identifier is missing or not allowed for this role")
	ErrWeakPassword          = newKindError(ErrBadRequest, "invalid password")
)

// Identity conflicts
var (
	ErrDuplicateEmail  = newKindError(ErrConflict, "email already registered")
	ErrStaleAccount    = newKindError(ErrConflict, "account was modified concurrently")
	ErrAlreadyVerified = newKindError(ErrConflict, "account already verified")
)

// OTP verification
var (
	ErrOTPNotFound     = newKindError(ErrNotFound, "no pending verification code")
	ErrInvalidOTP      = newKindError(ErrUnauthorized, "invalid verification code")
	ErrOTPExpired      = newKindError(ErrUnauthorized, "verification code expired")
	ErrResendCooldown  = newKindError(ErrBadRequest, "verification code was sent recently")
	ErrTooManyAttempts = newKindError(ErrForbidden, "too many verification attempts")
)

// Login and approval
var (
	ErrUnverified         = newKindError(ErrUnauthorized, "email address not verified")
	ErrPendingApproval    = newKindError(ErrUnauthorized, "faculty approval pending")
	ErrInvalidCredentials = newKindError(ErrUnauthorized, "invalid credentials")
	ErrNotAFaculty        = newKindError(ErrBadRequest, "account is not a faculty account")
)

// Session tokens
var (
	ErrInvalidToken = newKindError(ErrUnauthorized, "invalid session token")
	ErrExpiredToken = newKindError(ErrUnauthorized, "session token expired")
)
