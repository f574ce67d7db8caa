package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy is a fixed attempt budget for one endpoint
type Policy struct {
	Endpoint string
	Max      int
	Window   time.Duration
}

var (
	LoginPolicy         = Policy{Endpoint: "login", Max: 5, Window: 900 * time.Second}
	RegistrationPolicy  = Policy{Endpoint: "register", Max: 2, Window: time.Hour}
	PasswordResetPolicy = Policy{Endpoint: "password_reset", Max: 3, Window: time.Hour}
)

// Decision is the outcome of a rate limit check. ResetAt is only set when the
// attempt was rejected.
type Decision struct {
	Allowed bool
	ResetAt time.Time
}

// RetryAfter returns the whole seconds until ResetAt, never negative
func (d Decision) RetryAfter(now time.Time) int {
	if d.ResetAt.IsZero() {
		return 0
	}
	secs := int(d.ResetAt.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// AuthLimiter applies the authentication policies on top of a Limiter. Each policy
// has its own keyspace, so exhausting one never affects another.
type AuthLimiter struct {
	limiter Limiter
	logger  *zap.Logger
}

// NewAuthLimiter creates a new AuthLimiter instance
func NewAuthLimiter(limiter Limiter, logger *zap.Logger) *AuthLimiter {
	return &AuthLimiter{
		limiter: limiter,
		logger:  logger,
	}
}

// CheckLogin checks and records a login attempt from client
func (a *AuthLimiter) CheckLogin(ctx context.Context, client string) (Decision, error) {
	return a.check(ctx, client, LoginPolicy)
}

// CheckRegistration checks and records a registration attempt from client
func (a *AuthLimiter) CheckRegistration(ctx context.Context, client string) (Decision, error) {
	return a.check(ctx, client, RegistrationPolicy)
}

// CheckPasswordReset checks and records a password reset request from client
func (a *AuthLimiter) CheckPasswordReset(ctx context.Context, client string) (Decision, error) {
	return a.check(ctx, client, PasswordResetPolicy)
}

// RecordFailedLogin charges an extra login attempt after a credential failure
func (a *AuthLimiter) RecordFailedLogin(ctx context.Context, client string) error {
	key := Key(client, LoginPolicy.Endpoint)
	if err := a.limiter.Record(ctx, key, LoginPolicy.Max, LoginPolicy.Window); err != nil {
		return fmt.Errorf("failed to record failed login: %w", err)
	}
	return nil
}

func (a *AuthLimiter) check(ctx context.Context, client string, policy Policy) (Decision, error) {
	key := Key(client, policy.Endpoint)

	allowed, err := a.limiter.Allow(ctx, key, policy.Max, policy.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check %s limit: %w", policy.Endpoint, err)
	}
	if allowed {
		return Decision{Allowed: true}, nil
	}

	resetAt, err := a.limiter.ResetTime(ctx, key, policy.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to get %s reset time: %w", policy.Endpoint, err)
	}

	a.logger.Warn("rate limit exceeded",
		zap.String("endpoint", policy.Endpoint),
		zap.String("key", key),
		zap.Time("reset_at", resetAt))

	return Decision{Allowed: false, ResetAt: resetAt}, nil
}
