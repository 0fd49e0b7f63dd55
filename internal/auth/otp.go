package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/aitimetable/accounts/internal/models"
)

const (
	OTPDigits = 6
	OTPTTL    = 5 * time.Minute
)

var otpSpace = big.NewInt(1_000_000)

// OTPIssuer generates and checks one-time email verification codes.
// It holds no per-account state; callers persist the code on the account.
type OTPIssuer struct {
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewOTPIssuer creates an issuer with the standard 5 minute window
func NewOTPIssuer() *OTPIssuer {
	return &OTPIssuer{
		ttl:    OTPTTL,
		now:    time.Now,
		random: rand.Reader,
	}
}

// NewOTPIssuerWithClock creates an issuer that reads time from now
func NewOTPIssuerWithClock(now func() time.Time) *OTPIssuer {
	i := NewOTPIssuer()
	i.now = now
	return i
}

// Issue draws a uniform code in 000000-999999 and returns it zero-padded with its expiry
func (i *OTPIssuer) Issue() (string, time.Time, error) {
	n, err := rand.Int(i.random, otpSpace)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate otp: %w", err)
	}

	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), i.now().Add(i.ttl), nil
}

// Validate checks supplied against the account's pending code.
// A matching code at or after expiry is reported as expired so the caller knows to resend.
func (i *OTPIssuer) Validate(account *models.Account, supplied string) error {
	if !account.HasPendingOTP() {
		return models.ErrOTPNotFound
	}

	if subtle.ConstantTimeCompare([]byte(*account.OTPCode), []byte(supplied)) != 1 {
		return models.ErrInvalidOTP
	}

	if !i.now().Before(*account.OTPExpiresAt) {
		return models.ErrOTPExpired
	}

	return nil
}

// IssuedAt recovers the issue time of the pending code from its expiry
func (i *OTPIssuer) IssuedAt(account *models.Account) (time.Time, bool) {
	if !account.HasPendingOTP() {
		return time.Time{}, false
	}
	return account.OTPExpiresAt.Add(-i.ttl), true
}

// Now exposes the issuer clock so cooldowns share the same time source
func (i *OTPIssuer) Now() time.Time {
	return i.now()
}
