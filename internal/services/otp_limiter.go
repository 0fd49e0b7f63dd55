package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aitimetable/accounts/internal/models"
	pkglogger "github.com/aitimetable/accounts/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Limiter scopes
const (
	ScopeVerify = "verify"
	ScopeResend = "resend"
)

// OTPAttemptLimiter is a fixed-window counter per scope and email kept in Redis.
// A nil limiter allows everything.
type OTPAttemptLimiter struct {
	redis       *redis.Client
	maxAttempts int64
	window      time.Duration
	logger      *slog.Logger
}

func NewOTPAttemptLimiter(client *redis.Client, maxAttempts int, window time.Duration, logger *slog.Logger) *OTPAttemptLimiter {
	return &OTPAttemptLimiter{
		redis:       client,
		maxAttempts: int64(maxAttempts),
		window:      window,
		logger:      logger,
	}
}

func (l *OTPAttemptLimiter) key(scope, email string) string {
	return "otp:" + scope + ":" + email
}

// Allow counts one attempt and returns models.ErrTooManyAttempts once the
// window's budget is spent. Redis failures are logged and the attempt allowed.
func (l *OTPAttemptLimiter) Allow(ctx context.Context, scope, email string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	count, err := l.incr(ctx, l.key(scope, email))
	if err != nil {
		l.logger.Warn("otp limiter unavailable, allowing attempt",
			slog.String("scope", scope),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return nil
	}

	if count > l.maxAttempts {
		return models.ErrTooManyAttempts
	}
	return nil
}

func (l *OTPAttemptLimiter) incr(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, fmt.Errorf("expire: %w", err)
		}
	}
	return count, nil
}

// Reset clears the counter after a successful verification
func (l *OTPAttemptLimiter) Reset(ctx context.Context, scope, email string) {
	if l == nil || l.redis == nil {
		return
	}
	if err := l.redis.Del(ctx, l.key(scope, email)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("failed to reset otp limiter", slog.String("scope", scope), slog.Any("error", err))
	}
}
