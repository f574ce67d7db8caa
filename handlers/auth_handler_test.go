package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskpulse/backend/internal/observability"
	"github.com/taskpulse/backend/middleware"
	"github.com/taskpulse/backend/repositories/memory"
	"github.com/taskpulse/backend/services"
	"github.com/taskpulse/backend/services/ratelimit"
	"github.com/taskpulse/backend/token"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

// MockAuthLimiter is a mock implementation of AuthLimiter
type MockAuthLimiter struct {
	mock.Mock
}

func (m *MockAuthLimiter) CheckLogin(ctx context.Context, client string) (ratelimit.Decision, error) {
	args := m.Called(ctx, client)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

func (m *MockAuthLimiter) CheckRegistration(ctx context.Context, client string) (ratelimit.Decision, error) {
	args := m.Called(ctx, client)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

func (m *MockAuthLimiter) CheckPasswordReset(ctx context.Context, client string) (ratelimit.Decision, error) {
	args := m.Called(ctx, client)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

func (m *MockAuthLimiter) RecordFailedLogin(ctx context.Context, client string) error {
	args := m.Called(ctx, client)
	return args.Error(0)
}

type authFixture struct {
	handler *AuthHandler
	codec   *token.Codec
	metrics *observability.Metrics
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	codec, err := token.NewCodec(token.Config{
		Secret:     strings.Repeat("k", 32),
		Algorithm:  "HS256",
		DefaultTTL: time.Hour,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg, reg)
	require.NoError(t, err)

	logger := zap.NewNop()
	users := memory.NewStore().NewRepositories().Users
	authService := services.NewAuthService(users, codec, bcrypt.MinCost, logger)
	limiter := ratelimit.NewAuthLimiter(ratelimit.NewMemoryLimiter(logger), logger)

	return &authFixture{
		handler: NewAuthHandler(authService, limiter, codec, metrics, logger),
		codec:   codec,
		metrics: metrics,
	}
}

func postJSON(path, body, client string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if client != "" {
		req.Header.Set("X-Forwarded-For", client)
	}
	return req
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data, ok := response["data"].(map[string]interface{})
	require.True(t, ok, "response has no data envelope")
	return data
}

func (f *authFixture) register(t *testing.T, email, client string) int64 {
	t.Helper()
	w := httptest.NewRecorder()
	f.handler.HandleRegister(w, postJSON("/auth/register", `{"email":"`+email+`","password":"Passw0rdX"}`, client))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return int64(decodeData(t, w)["user_id"].(float64))
}

func TestAuthHandler_Register(t *testing.T) {
	f := newAuthFixture(t)

	t.Run("success returns a usable token", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.handler.HandleRegister(w, postJSON("/auth/register", `{"email":"ada@example.com","password":"Passw0rdX"}`, "10.0.0.1"))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, "ada@example.com", data["email"])

		userID, err := f.codec.ExtractUserID(data["token"].(string))
		require.NoError(t, err)
		assert.Equal(t, int64(data["user_id"].(float64)), userID)
	})

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "duplicate email",
			body:           `{"email":"ADA@example.com","password":"Passw0rdX"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"bad_request","message":"User with this email already exists"}`,
		},
		{
			name:           "weak password",
			body:           `{"email":"bob@example.com","password":"password"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid email",
			body:           `{"email":"not-an-email","password":"Passw0rdX"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed body",
			body:           `{"email":`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"bad_request","message":"Invalid request body"}`,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			client := "10.0.1." + string(rune('1'+i))
			f.handler.HandleRegister(w, postJSON("/auth/register", tt.body, client))

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestAuthHandler_RegisterRateLimit(t *testing.T) {
	f := newAuthFixture(t)

	f.register(t, "a@example.com", "10.0.0.9")
	f.register(t, "b@example.com", "10.0.0.9")

	w := httptest.NewRecorder()
	f.handler.HandleRegister(w, postJSON("/auth/register", `{"email":"c@example.com","password":"Passw0rdX"}`, "10.0.0.9"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Contains(t, w.Body.String(), "Too many registration attempts")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RateLimitRejected.WithLabelValues("register")))

	// another client has its own budget
	f.register(t, "c@example.com", "10.0.0.10")
}

func TestAuthHandler_Login(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "10.0.0.1")

	t.Run("success", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.handler.HandleLogin(w, postJSON("/auth/login", `{"email":"ada@example.com","password":"Passw0rdX"}`, "10.0.0.2"))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.NotEmpty(t, data["token"])
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthEvents.WithLabelValues("login_success")))
	})

	t.Run("unknown email and wrong password answer alike", func(t *testing.T) {
		wrong := httptest.NewRecorder()
		f.handler.HandleLogin(wrong, postJSON("/auth/login", `{"email":"ada@example.com","password":"nope"}`, "10.0.0.3"))
		unknown := httptest.NewRecorder()
		f.handler.HandleLogin(unknown, postJSON("/auth/login", `{"email":"eve@example.com","password":"nope"}`, "10.0.0.4"))

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, wrong.Code, unknown.Code)
		assert.Equal(t, wrong.Body.String(), unknown.Body.String())
		assert.Equal(t, "Bearer", wrong.Header().Get("WWW-Authenticate"))
		assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.AuthEvents.WithLabelValues("login_failure")))
	})

	t.Run("validation runs before the limiter", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.handler.HandleLogin(w, postJSON("/auth/login", `{"email":"ada@example.com"}`, "10.0.0.5"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_LoginFailuresConsumeExtraBudget(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "10.0.0.1")

	// each failure costs two of the five slots
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		f.handler.HandleLogin(w, postJSON("/auth/login", `{"email":"ada@example.com","password":"nope"}`, "10.9.9.9"))
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := httptest.NewRecorder()
	f.handler.HandleLogin(w, postJSON("/auth/login", `{"email":"ada@example.com","password":"Passw0rdX"}`, "10.9.9.9"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate_limit_exceeded","message":"Too many login attempts. Please try again later."}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAuthHandler_LimiterFailure(t *testing.T) {
	limiter := new(MockAuthLimiter)
	limiter.On("CheckLogin", mock.Anything, "10.0.0.1").Return(ratelimit.Decision{}, errors.New("redis down"))
	h := NewAuthHandler(nil, limiter, nil, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleLogin(w, postJSON("/auth/login", `{"email":"ada@example.com","password":"x"}`, "10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "redis")
	limiter.AssertExpectations(t)
}

func TestAuthHandler_RateLimitHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := new(MockAuthLimiter)
	limiter.On("CheckPasswordReset", mock.Anything, "10.0.0.1").
		Return(ratelimit.Decision{Allowed: false, ResetAt: now.Add(90 * time.Second)}, nil)
	h := NewAuthHandler(nil, limiter, nil, nil, zap.NewNop())
	h.now = func() time.Time { return now }

	w := httptest.NewRecorder()
	h.HandlePasswordReset(w, postJSON("/auth/password-reset", `{"email":"ada@example.com"}`, "10.0.0.1"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
	assert.Equal(t, "1700000090", w.Header().Get("X-RateLimit-Reset"))
}

func TestAuthHandler_PasswordReset(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "ada@example.com", "10.0.0.1")

	known := httptest.NewRecorder()
	f.handler.HandlePasswordReset(known, postJSON("/auth/password-reset", `{"email":"ada@example.com"}`, "10.0.0.2"))
	unknown := httptest.NewRecorder()
	f.handler.HandlePasswordReset(unknown, postJSON("/auth/password-reset", `{"email":"eve@example.com"}`, "10.0.0.2"))

	assert.Equal(t, http.StatusAccepted, known.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.JSONEq(t, `{"message":"`+PasswordResetMessage+`"}`, known.Body.String())

	f.handler.HandlePasswordReset(httptest.NewRecorder(), postJSON("/auth/password-reset", `{"email":"x@example.com"}`, "10.0.0.2"))
	w := httptest.NewRecorder()
	f.handler.HandlePasswordReset(w, postJSON("/auth/password-reset", `{"email":"x@example.com"}`, "10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAuthHandler_Logout(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token"},
		{name: "garbage token", header: "Bearer abc"},
		{name: "valid token", header: "Bearer " + mustIssue(t, f.codec, 7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.handler.HandleLogout(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"message":"Successfully logged out"}`, w.Body.String())
		})
	}
}

func mustIssue(t *testing.T, codec *token.Codec, userID int64) string {
	t.Helper()
	signed, err := codec.Issue(token.Claims{UserID: userID}, 0)
	require.NoError(t, err)
	return signed
}

func withPrincipal(r *http.Request, userID int64) *http.Request {
	return r.WithContext(middleware.WithPrincipal(r.Context(), &middleware.Principal{UserID: userID}))
}

func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAuthHandler_MeAndGetUser(t *testing.T) {
	f := newAuthFixture(t)
	adaID := f.register(t, "ada@example.com", "10.0.0.1")
	bobID := f.register(t, "bob@example.com", "10.0.0.2")

	t.Run("me", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.handler.HandleMe(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/me", nil), adaID))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, "ada@example.com", data["email"])
		assert.NotContains(t, data, "hashed_password")
	})

	t.Run("me without principal", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.handler.HandleMe(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	tests := []struct {
		name           string
		pathUserID     string
		expectedStatus int
	}{
		{name: "own record", pathUserID: "1", expectedStatus: http.StatusOK},
		{name: "someone else", pathUserID: "2", expectedStatus: http.StatusNotFound},
		{name: "unknown id", pathUserID: "999", expectedStatus: http.StatusNotFound},
		{name: "malformed id", pathUserID: "abc", expectedStatus: http.StatusNotFound},
	}

	require.Equal(t, int64(1), adaID)
	require.Equal(t, int64(2), bobID)

	var notFoundBody string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/"+tt.pathUserID, nil)
			req = withPrincipal(withURLParams(req, "user_id", tt.pathUserID), adaID)
			w := httptest.NewRecorder()
			f.handler.HandleGetUser(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if w.Code == http.StatusNotFound {
				if notFoundBody == "" {
					notFoundBody = w.Body.String()
				}
				assert.Equal(t, notFoundBody, w.Body.String())
			}
		})
	}
}

func TestAuthHandler_Health(t *testing.T) {
	f := newAuthFixture(t)
	w := httptest.NewRecorder()
	f.handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/auth/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"auth"}`, w.Body.String())
}

// brokenWriter accepts headers but fails every body write, like a client that hung up
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (b brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestAuthHandler_HealthWriteFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := NewAuthHandler(nil, nil, nil, nil, zap.New(core))

	w := brokenWriter{httptest.NewRecorder()}
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/auth/health", nil))

	entries := logs.FilterMessage("failed to write response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "connection reset by peer", entries[0].ContextMap()["error"])
}
