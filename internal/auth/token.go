package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/aitimetable/accounts/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionTokenTTL is the fixed validity window of a session token
const SessionTokenTTL = 24 * time.Hour

// TokenManager mints and validates HS256 session tokens.
// The secret is read once at startup; rotating it invalidates every outstanding token.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    SessionTokenTTL,
		now:    time.Now,
	}
}

// Mint creates a session token for the account and returns it with its expiry
func (tm *TokenManager) Mint(accountID string, role models.Role) (string, time.Time, error) {
	if accountID == "" {
		return "", time.Time{}, fmt.Errorf("account id is required")
	}

	issuedAt := tm.now()
	expiresAt := issuedAt.Add(tm.ttl)

	claims := &models.SessionClaims{
		AccountID: accountID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate verifies signature and validity window.
// Returns models.ErrExpiredToken when the window has elapsed and models.ErrInvalidToken otherwise.
func (tm *TokenManager) Validate(tokenString string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrExpiredToken
		}
		return nil, models.ErrInvalidToken
	}

	if !token.Valid || claims.AccountID == "" || !claims.Role.Valid() {
		return nil, models.ErrInvalidToken
	}

	return claims, nil
}
