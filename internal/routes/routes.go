package routes

import (
	"github.com/aitimetable/accounts/internal/auth"
	"github.com/aitimetable/accounts/internal/handlers"
	"github.com/aitimetable/accounts/internal/middleware"
	"github.com/aitimetable/accounts/internal/models"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *auth.TokenManager,
	accountRepo auth.AccountRepository,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/health", healthHandler.Health)

	// Public routes share one per-IP budget
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/verify-otp", authHandler.VerifyOTP)
		r.Post("/auth/resend-otp", authHandler.ResendOTP)
		r.Post("/auth/login", authHandler.Login)
	})

	// Protected routes - session token required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		r.Get("/auth/me", authHandler.Me)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(accountRepo, models.RoleAdmin))
			r.Get("/admin/faculty/pending", adminHandler.ListPendingFaculty)
			r.Post("/admin/faculty/{id}/approve", adminHandler.ApproveFaculty)
		})
	})
}
