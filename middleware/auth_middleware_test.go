package middleware

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskpulse/backend/internal/observability"
	"github.com/taskpulse/backend/token"
	"go.uber.org/zap"
)

var testSecret = strings.Repeat("k", 32)

// MockTokenVerifier is a mock implementation of TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(raw string) (*token.Claims, error) {
	args := m.Called(raw)
	if c := args.Get(0); c != nil {
		return c.(*token.Claims), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec(token.Config{Secret: testSecret, Algorithm: "HS256", DefaultTTL: time.Hour})
	require.NoError(t, err)
	return codec
}

func issue(t *testing.T, codec *token.Codec, userID int64, ttl time.Duration) string {
	t.Helper()
	signed, err := codec.Issue(token.Claims{UserID: userID, Email: "user@example.com"}, ttl)
	require.NoError(t, err)
	return signed
}

// probe records whether the downstream handler ran and what principal it saw
type probe struct {
	called    bool
	principal *Principal
	state     GateState
}

func (p *probe) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.called = true
		p.principal, _ = PrincipalFromContext(r.Context())
		p.state = GateStateFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/health/", "/health"},
		{"/api/v1", "/"},
		{"/api/v1/", "/"},
		{"/api/v1/auth/login", "/auth/login"},
		{"/api/v1/auth/login/", "/auth/login"},
		{"/api/v10/auth/login", "/api/v10/auth/login"},
		{"/api/5/tasks", "/api/5/tasks"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestAuthGate_Classify(t *testing.T) {
	gate := NewAuthGate(new(MockTokenVerifier), []string{"/docs/"}, nil, zap.NewNop())

	tests := []struct {
		name   string
		method string
		path   string
		want   GateState
	}{
		{"root", http.MethodGet, "/", Public},
		{"health", http.MethodGet, "/health", Public},
		{"login", http.MethodPost, "/auth/login", Public},
		{"versioned login with slash", http.MethodPost, "/api/v1/auth/login/", Public},
		{"password reset", http.MethodPost, "/auth/password-reset", Public},
		{"configured prefix", http.MethodGet, "/docs/index.html", Public},
		{"configured prefix itself", http.MethodGet, "/docs", Public},
		{"prefix lookalike", http.MethodGet, "/docsearch", ProtectedPending},
		{"me", http.MethodGet, "/auth/me", ProtectedPending},
		{"tasks", http.MethodGet, "/api/1/tasks", ProtectedPending},
		{"preflight on protected path", http.MethodOptions, "/api/1/tasks", Public},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			assert.Equal(t, tt.want, gate.Classify(req))
		})
	}
}

func TestAuthGate_PublicPathSkipsAuthentication(t *testing.T) {
	verifier := new(MockTokenVerifier)
	gate := NewAuthGate(verifier, nil, nil, zap.NewNop())
	p := &probe{}

	req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	gate.Middleware(p.handler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, p.called)
	assert.Nil(t, p.principal)
	assert.Equal(t, Public, p.state)
	verifier.AssertNotCalled(t, "Verify", mock.Anything)
}

func TestAuthGate_Authenticated(t *testing.T) {
	codec := newTestCodec(t)
	gate := NewAuthGate(codec, nil, nil, zap.NewNop())
	p := &probe{}

	req := httptest.NewRequest(http.MethodGet, "/api/7/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, codec, 7, 0))
	w := httptest.NewRecorder()
	gate.Middleware(p.handler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, p.principal)
	assert.Equal(t, int64(7), p.principal.UserID)
	assert.Equal(t, "user@example.com", p.principal.Email)
	assert.Equal(t, ProtectedAuthenticated, p.state)
}

func unsignedPayload(claims map[string]interface{}) string {
	raw, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestAuthGate_Rejections(t *testing.T) {
	codec := newTestCodec(t)
	otherCodec, err := token.NewCodec(token.Config{Secret: strings.Repeat("z", 32), Algorithm: "HS256", DefaultTTL: time.Hour})
	require.NoError(t, err)

	valid := issue(t, codec, 7, 0)
	parts := strings.Split(valid, ".")
	forged := parts[0] + "." + unsignedPayload(map[string]interface{}{"user_id": 1, "exp": time.Now().Add(time.Hour).Unix()}) + "." + parts[2]

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"lowercase scheme", "bearer " + valid},
		{"no space", "Bearer" + valid},
		{"double space", "Bearer  " + valid},
		{"empty token", "Bearer "},
		{"one dot", "Bearer abc.def"},
		{"three dots", "Bearer a.b.c.d"},
		{"garbage segments", "Bearer a.b.c"},
		{"wrong secret", "Bearer " + issue(t, otherCodec, 7, 0)},
		{"expired", "Bearer " + issue(t, codec, 7, -time.Minute)},
		{"forged payload", "Bearer " + forged},
		{"trailing text", "Bearer " + valid + " extra"},
	}

	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewAuthGate(codec, nil, nil, zap.NewNop())
			p := &probe{}

			req := httptest.NewRequest(http.MethodGet, "/api/7/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			gate.Middleware(p.handler()).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
			assert.False(t, p.called)

			body, _ := io.ReadAll(w.Body)
			bodies = append(bodies, string(body))
		})
	}

	require.NotEmpty(t, bodies)
	assert.JSONEq(t, `{"error":"unauthorized","message":"Missing or invalid authentication token"}`, bodies[0])
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
}

func TestAuthGate_ClaimWithoutUserID(t *testing.T) {
	verifier := new(MockTokenVerifier)
	verifier.On("Verify", "a.b.c").Return(&token.Claims{Email: "x@example.com"}, nil)
	gate := NewAuthGate(verifier, nil, nil, zap.NewNop())
	p := &probe{}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	w := httptest.NewRecorder()
	gate.Middleware(p.handler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, p.called)
	verifier.AssertExpectations(t)
}

func TestAuthGate_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg, reg)
	require.NoError(t, err)

	codec := newTestCodec(t)
	gate := NewAuthGate(codec, nil, metrics, zap.NewNop())
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	authed := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	authed.Header.Set("Authorization", "Bearer "+issue(t, codec, 3, 0))
	h.ServeHTTP(httptest.NewRecorder(), authed)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("public")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("protected_authenticated")))
}

func TestRequirePrincipal(t *testing.T) {
	t.Run("absent principal fails closed", func(t *testing.T) {
		w := httptest.NewRecorder()
		p, ok := RequirePrincipal(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		assert.False(t, ok)
		assert.Nil(t, p)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	})

	t.Run("present principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{UserID: 9}))
		w := httptest.NewRecorder()
		p, ok := RequirePrincipal(w, req)
		assert.True(t, ok)
		assert.Equal(t, int64(9), p.UserID)
	})

	t.Run("zero user id is not a principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{}))
		_, ok := RequirePrincipal(httptest.NewRecorder(), req)
		assert.False(t, ok)
	})
}

func TestGateState_String(t *testing.T) {
	assert.Equal(t, "unclassified", Unclassified.String())
	assert.Equal(t, "public", Public.String())
	assert.Equal(t, "protected_pending", ProtectedPending.String())
	assert.Equal(t, "protected_authenticated", ProtectedAuthenticated.String())
	assert.Equal(t, "rejected", Rejected.String())
}
