package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aitimetable/accounts/internal/auth"
	"github.com/aitimetable/accounts/internal/background"
	"github.com/aitimetable/accounts/internal/config"
	"github.com/aitimetable/accounts/internal/database"
	"github.com/aitimetable/accounts/internal/handlers"
	middlewareCustom "github.com/aitimetable/accounts/internal/middleware"
	"github.com/aitimetable/accounts/internal/repositories"
	"github.com/aitimetable/accounts/internal/routes"
	"github.com/aitimetable/accounts/internal/services"
	pkghttp "github.com/aitimetable/accounts/pkg/http"
	pkglogger "github.com/aitimetable/accounts/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db, cfg.Database.OperationTimeout)
	profileRepo := repositories.NewFacultyProfileRepository(
		db,
		cfg.Database.OperationTimeout,
		cfg.Faculty.DefaultDepartment,
		cfg.Faculty.DefaultMaxWeeklyHours,
	)

	// OTP attempt limiter, only when Redis is configured
	var limiter services.AttemptLimiter
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		limiter = services.NewOTPAttemptLimiter(redisClient, cfg.Auth.OTPMaxAttempts, cfg.Auth.OTPAttemptWindow, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, OTP attempt limiting disabled")
	}

	// Email delivery
	var emailService services.EmailService
	if cfg.Email.Enabled {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesService, err := services.NewAWSSESEmailService(initCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		emailService = sesService
	} else {
		logger.Warn("EMAIL_ENABLED=false, verification codes will be returned in responses")
		emailService = services.NewLogEmailService(logger)
	}

	dispatcher := background.NewNotificationDispatcher(
		emailService,
		cfg.Email.QueueSize,
		cfg.Email.Workers,
		cfg.Email.SendTimeout,
		logger,
	)

	// Auth primitives
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})
	auditLogger := pkglogger.NewAuditLogger(logger)

	accountService := services.NewAccountService(
		accountRepo,
		profileRepo,
		auth.NewOTPIssuer(),
		tokenManager,
		timingDelay,
		emailService,
		dispatcher,
		limiter,
		services.AccountServiceConfig{
			ResendCooldown: cfg.Auth.OTPResendCooldown,
			SendTimeout:    cfg.Email.SendTimeout,
		},
		logger,
		auditLogger,
	)

	// Bootstrap first admin if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := accountService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(accountService, ipConfig, logger)
	adminHandler := handlers.NewAdminHandler(accountService, logger)
	healthHandler := handlers.NewHealthHandler(db, logger)

	// Setup router. Client IPs come from ExtractClientIP, so chi's RealIP is not mounted.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	rateLimitConfig := middlewareCustom.DefaultAuthRateLimit(ipConfig)
	if cfg.Auth.AuthRequestsPerMin > 0 {
		rateLimitConfig.RequestsPerMinute = cfg.Auth.AuthRequestsPerMin
	}

	routes.RegisterRoutes(router, authHandler, adminHandler, healthHandler, tokenManager, accountRepo, rateLimitConfig)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start notification workers
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()

	go dispatcher.Start(dispatchCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Drain queued welcome and approval emails after the last request has finished
	dispatcher.Stop()

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
