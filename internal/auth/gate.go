package auth

import "github.com/aitimetable/accounts/internal/models"

// CheckLoginEligibility is the approval gate run before any password comparison.
// Verification is checked first for every role; approval only for faculty.
func CheckLoginEligibility(account *models.Account) error {
	if !account.IsVerified {
		return models.ErrUnverified
	}
	if account.IsFaculty() && !account.IsApproved {
		return models.ErrPendingApproval
	}
	return nil
}
