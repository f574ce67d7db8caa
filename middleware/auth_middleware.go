package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/taskpulse/backend/internal/observability"
	"github.com/taskpulse/backend/token"
	"github.com/taskpulse/backend/utils"
	"go.uber.org/zap"
)

// GateState is the position of a request in the auth gate
type GateState int

const (
	Unclassified GateState = iota
	Public
	ProtectedPending
	ProtectedAuthenticated
	Rejected
)

func (s GateState) String() string {
	switch s {
	case Public:
		return "public"
	case ProtectedPending:
		return "protected_pending"
	case ProtectedAuthenticated:
		return "protected_authenticated"
	case Rejected:
		return "rejected"
	default:
		return "unclassified"
	}
}

// APIVersionPrefix is stripped from paths before they are classified
const APIVersionPrefix = "/api/v1"

// UnauthorizedMessage is the only message a rejected request ever sees
const UnauthorizedMessage = "Missing or invalid authentication token"

// DefaultPublicPaths are reachable without a token. Paths are compared after
// normalization.
var DefaultPublicPaths = []string{
	"/",
	"/health",
	"/healthz",
	"/readyz",
	"/metrics",
	"/auth/register",
	"/auth/login",
	"/auth/logout",
	"/auth/health",
	"/auth/password-reset",
}

var (
	errMissingHeader = errors.New("missing authorization header")
	errBadScheme     = errors.New("authorization scheme is not Bearer")
	errTokenFormat   = errors.New("token is not three dot-separated segments")
)

// TokenVerifier verifies a signed token and returns its claims
type TokenVerifier interface {
	Verify(token string) (*token.Claims, error)
}

// AuthGate classifies every request as public or protected and authenticates the
// protected ones
type AuthGate struct {
	verifier       TokenVerifier
	publicPaths    map[string]struct{}
	publicPrefixes []string
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewAuthGate creates an AuthGate with DefaultPublicPaths plus publicPrefixes
func NewAuthGate(verifier TokenVerifier, publicPrefixes []string, metrics *observability.Metrics, logger *zap.Logger) *AuthGate {
	paths := make(map[string]struct{}, len(DefaultPublicPaths))
	for _, p := range DefaultPublicPaths {
		paths[p] = struct{}{}
	}
	prefixes := make([]string, 0, len(publicPrefixes))
	for _, p := range publicPrefixes {
		if p = NormalizePath(p); p != "/" {
			prefixes = append(prefixes, p)
		}
	}
	return &AuthGate{
		verifier:       verifier,
		publicPaths:    paths,
		publicPrefixes: prefixes,
		metrics:        metrics,
		logger:         logger,
	}
}

// NormalizePath strips one trailing slash and the API version prefix. The root stays "/".
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == APIVersionPrefix {
		return "/"
	}
	if strings.HasPrefix(path, APIVersionPrefix+"/") {
		path = strings.TrimPrefix(path, APIVersionPrefix)
	}
	return path
}

// Classify moves an unclassified request to Public or ProtectedPending
func (g *AuthGate) Classify(r *http.Request) GateState {
	if r.Method == http.MethodOptions {
		return Public
	}
	path := NormalizePath(r.URL.Path)
	if _, ok := g.publicPaths[path]; ok {
		return Public
	}
	for _, prefix := range g.publicPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return Public
		}
	}
	return ProtectedPending
}

// Authenticate resolves the principal of a ProtectedPending request
func (g *AuthGate) Authenticate(r *http.Request) (*Principal, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := g.verifier.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, token.ErrClaimMissing
	}
	return &Principal{UserID: claims.UserID, Email: claims.Email}, nil
}

// Middleware runs the gate. Public and authenticated requests reach next; rejected
// requests get a uniform 401 and next is never called.
func (g *AuthGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		state := g.Classify(r)
		if state == Public {
			g.metrics.GateDecision(state.String())
			noteGate(ctx, state, 0)
			next.ServeHTTP(w, r.WithContext(withGateState(ctx, state)))
			return
		}

		principal, err := g.Authenticate(r)
		if err != nil {
			state = Rejected
			g.metrics.GateDecision(state.String())
			noteGate(ctx, state, 0)
			g.logger.Info("request rejected by auth gate",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.String("reason", err.Error()))
			WriteUnauthorized(w)
			return
		}

		state = ProtectedAuthenticated
		g.metrics.GateDecision(state.String())
		noteGate(ctx, state, principal.UserID)
		g.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.Int64("user_id", principal.UserID))

		ctx = withGateState(WithPrincipal(ctx, principal), state)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePrincipal returns the request principal or writes the gate's 401. Handlers
// behind the gate use it so a routing mistake fails closed.
func RequirePrincipal(w http.ResponseWriter, r *http.Request) (*Principal, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w)
		return nil, false
	}
	return principal, true
}

// WriteUnauthorized writes the uniform 401 response
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	_ = utils.WriteUnauthorized(w, UnauthorizedMessage)
}

// bearerToken extracts the token from an Authorization header of exactly
// "Bearer <token>" where the token has exactly two dots
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingHeader
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errBadScheme
	}
	if raw == "" || strings.Count(raw, ".") != 2 || strings.ContainsAny(raw, " \t") {
		return "", errTokenFormat
	}
	return raw, nil
}
