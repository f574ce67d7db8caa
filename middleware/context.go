package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// PrincipalKey is the context key for the authenticated principal
	PrincipalKey contextKey = "principal"

	// GateStateKey is the context key for the auth gate state of the request
	GateStateKey contextKey = "gate_state"
)

// Principal is the authenticated caller attached by the auth gate. It lives only as
// long as the request context.
type Principal struct {
	UserID int64
	Email  string
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// PrincipalFromContext retrieves the principal from context. Public requests have none.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if val := ctx.Value(PrincipalKey); val != nil {
		if p, ok := val.(*Principal); ok && p != nil && p.UserID > 0 {
			return p, true
		}
	}
	return nil, false
}

// WithPrincipal adds the principal to the context
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GateStateFromContext retrieves the auth gate state, Unclassified if the gate did
// not run
func GateStateFromContext(ctx context.Context) GateState {
	if val := ctx.Value(GateStateKey); val != nil {
		if state, ok := val.(GateState); ok {
			return state
		}
	}
	return Unclassified
}

func withGateState(ctx context.Context, state GateState) context.Context {
	return context.WithValue(ctx, GateStateKey, state)
}
