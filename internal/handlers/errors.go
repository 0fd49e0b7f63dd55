package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aitimetable/accounts/internal/models"
	pkghttp "github.com/aitimetable/accounts/pkg/http"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Specific errors come before the categories they wrap
var errorMappings = []errorMapping{
	{models.ErrMissingRole, http.StatusBadRequest, "missing_role", "Role is required"},
	{models.ErrInvalidRole, http.StatusBadRequest, "invalid_role", "Role must be one of: admin, faculty, student"},
	{models.ErrMissingRoleIdentifier, http.StatusBadRequest, "missing_role_identifier", "Faculty ID is required for faculty and USN for students; admins take neither"},
	{models.ErrWeakPassword, http.StatusBadRequest, "weak_password", "Password does not meet requirements"},
	{models.ErrDuplicateEmail, http.StatusConflict, "duplicate_email", "User already exists"},
	{models.ErrAlreadyVerified, http.StatusConflict, "already_verified", "Account is already verified"},
	{models.ErrStaleAccount, http.StatusConflict, "conflict", "Account was modified by another request, please retry"},
	{models.ErrInvalidOTP, http.StatusBadRequest, "invalid_code", "Invalid OTP"},
	{models.ErrOTPExpired, http.StatusBadRequest, "otp_expired", "OTP expired"},
	{models.ErrOTPNotFound, http.StatusNotFound, "not_found", "No pending OTP for this account"},
	{models.ErrResendCooldown, http.StatusTooManyRequests, "resend_cooldown", "An OTP was sent recently, please wait before requesting another"},
	{models.ErrTooManyAttempts, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many attempts, please try again later"},
	{models.ErrUnverified, http.StatusForbidden, "unverified", "Please verify your email first"},
	{models.ErrPendingApproval, http.StatusForbidden, "pending_approval", "Faculty approval pending by admin"},
	{models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"},
	{models.ErrNotAFaculty, http.StatusBadRequest, "not_a_faculty", "User is not a faculty"},
	{models.ErrNotFound, http.StatusNotFound, "not_found", "User not found"},
	{models.ErrBadRequest, http.StatusBadRequest, "bad_request", "Invalid request"},
}

// writeServiceError maps a service error to its status and stable code
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			pkghttp.WriteError(w, m.status, m.code, m.message)
			return
		}
	}

	logger.Error("unhandled service error", slog.Any("error", err))
	pkghttp.WriteInternalError(w, "Internal server error")
}
