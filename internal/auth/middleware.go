package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aitimetable/accounts/internal/models"
	pkghttp "github.com/aitimetable/accounts/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing session claims in context
	ClaimsContextKey contextKey = "session"
)

// AccountRepository fetches the current account state for role checks
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// AuthMiddleware validates the Bearer session token and injects its claims into the context
func AuthMiddleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.Validate(parts[1])
			if err != nil {
				if errors.Is(err, models.ErrExpiredToken) {
					pkghttp.WriteError(w, http.StatusUnauthorized, "expired_token", "Session token expired")
					return
				}
				pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role-based access using the stored account, not just the token claim
func RequireRole(accounts AccountRepository, role models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			account, err := accounts.GetByID(r.Context(), claims.AccountID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "account not found")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if account.Role != role || !account.CanLogin() {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetClaimsFromContext extracts session claims from request context
func GetClaimsFromContext(r *http.Request) *models.SessionClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
