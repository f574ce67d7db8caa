package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskpulse/backend/internal/observability"
	"github.com/taskpulse/backend/middleware"
	"github.com/taskpulse/backend/models"
	"github.com/taskpulse/backend/services"
	"github.com/taskpulse/backend/services/isolation"
	"github.com/taskpulse/backend/services/ratelimit"
	"github.com/taskpulse/backend/utils"
	"go.uber.org/zap"
)

const (
	// PasswordResetMessage is returned whether or not the email belongs to an account
	PasswordResetMessage = "If the email exists, a password reset link has been sent"
	// LogoutMessage is returned by the stateless logout endpoint
	LogoutMessage = "Successfully logged out"
)

// AuthService defines the account operations used by AuthHandler
type AuthService interface {
	Register(ctx context.Context, email, password string) (*models.AuthResponse, error)
	Authenticate(ctx context.Context, email, password string) (*models.AuthResponse, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// AuthLimiter defines the per-endpoint attempt budgets used by AuthHandler
type AuthLimiter interface {
	CheckLogin(ctx context.Context, client string) (ratelimit.Decision, error)
	CheckRegistration(ctx context.Context, client string) (ratelimit.Decision, error)
	CheckPasswordReset(ctx context.Context, client string) (ratelimit.Decision, error)
	RecordFailedLogin(ctx context.Context, client string) error
}

// TokenInspector reports whether a presented token has lapsed
type TokenInspector interface {
	IsExpired(token string) bool
}

// AuthHandler handles the /auth endpoints
type AuthHandler struct {
	auth      AuthService
	limiter   AuthLimiter
	inspector TokenInspector
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth AuthService, limiter AuthLimiter, inspector TokenInspector, metrics *observability.Metrics, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:      auth,
		limiter:   limiter,
		inspector: inspector,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := ratelimit.ClientIP(r)

	var req models.RegisterRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	decision, err := h.limiter.CheckRegistration(ctx, client)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to check registration limit", err), h.logger)
		return
	}
	if !decision.Allowed {
		h.rejectLimited(w, decision, ratelimit.RegistrationPolicy.Endpoint, services.ErrRegistrationRateLimited)
		return
	}

	resp, err := h.auth.Register(ctx, req.Email, req.Password)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.metrics.AuthEvent("register")
	h.logger.Info("user registered",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.Int64("user_id", resp.UserID))

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	client := ratelimit.ClientIP(r)

	var req models.LoginRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	decision, err := h.limiter.CheckLogin(ctx, client)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to check login limit", err), h.logger)
		return
	}
	if !decision.Allowed {
		h.rejectLimited(w, decision, ratelimit.LoginPolicy.Endpoint, services.ErrLoginRateLimited)
		return
	}

	resp, err := h.auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if services.IsUnauthorizedError(err) {
			h.metrics.AuthEvent("login_failure")
			h.logger.Warn("login failed",
				zap.String("request_id", requestID),
				zap.String("client", client),
				zap.String("reason", services.PublicMessage(err)))
		}
		// a failed password costs an extra slot of the login budget
		if errors.Is(err, services.ErrInvalidCredentials) {
			if recErr := h.limiter.RecordFailedLogin(ctx, client); recErr != nil {
				h.logger.Error("failed to record failed login", zap.Error(recErr))
			}
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	h.metrics.AuthEvent("login_success")
	h.logger.Info("user logged in",
		zap.String("request_id", requestID),
		zap.Int64("user_id", resp.UserID))

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleLogout handles POST /auth/logout. Tokens are not stored, so logout only
// tells the client to discard its copy.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && raw != "" {
		h.logger.Debug("logout",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Bool("token_expired", h.inspector.IsExpired(raw)))
	}
	h.metrics.AuthEvent("logout")

	if err := utils.WriteMessage(w, http.StatusOK, LogoutMessage); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandlePasswordReset handles POST /auth/password-reset. The answer never reveals
// whether the email is registered.
func (h *AuthHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.PasswordResetRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	decision, err := h.limiter.CheckPasswordReset(ctx, ratelimit.ClientIP(r))
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to check password reset limit", err), h.logger)
		return
	}
	if !decision.Allowed {
		h.rejectLimited(w, decision, ratelimit.PasswordResetPolicy.Endpoint, services.ErrPasswordResetRateLimited)
		return
	}

	h.metrics.AuthEvent("password_reset")
	h.logger.Info("password reset requested",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))

	if err := utils.WriteMessage(w, http.StatusAccepted, PasswordResetMessage); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleMe handles GET /auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	h.writeUser(w, r, principal.UserID)
}

// HandleGetUser handles GET /auth/{user_id}. Asking for anyone but yourself is
// answered like an unknown id.
func (h *AuthHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	pathUserID, err := parseID(chi.URLParam(r, "user_id"))
	if err != nil {
		HandleServiceError(w, services.ErrResourceNotFound, h.logger)
		return
	}
	if err := isolation.CheckPathOwner(pathUserID, principal.UserID, h.metrics); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.writeUser(w, r, principal.UserID)
}

// HandleHealth handles GET /auth/health
func (h *AuthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "auth"}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *AuthHandler) writeUser(w http.ResponseWriter, r *http.Request, userID int64) {
	user, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := utils.WriteOK(w, user.ToResponse()); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *AuthHandler) rejectLimited(w http.ResponseWriter, decision ratelimit.Decision, endpoint string, err error) {
	h.metrics.RateLimited(endpoint)
	utils.SetRateLimitHeaders(w, decision.RetryAfter(h.now()), decision.ResetAt)
	HandleServiceError(w, err, h.logger)
}

// parseID parses a positive decimal path identifier
func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}
