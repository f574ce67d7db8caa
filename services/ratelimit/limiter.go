package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"
)

// Limiter is a sliding-window attempt counter keyed by an opaque string.
//
// Allow admits and records an attempt when fewer than max attempts fall inside the
// window ending now; a rejected attempt is not recorded. Record adds an extra attempt
// for a request that was already admitted, without growing the window past max.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error)
	Record(ctx context.Context, key string, max int, window time.Duration) error
	ResetTime(ctx context.Context, key string, window time.Duration) (time.Time, error)
}

// Key derives the limiter key for a client and endpoint pair
func Key(client, endpoint string) string {
	sum := sha256.Sum256([]byte(client + ":" + endpoint))
	return hex.EncodeToString(sum[:])[:16]
}

// ClientIP returns the best-effort client address for r: the first X-Forwarded-For
// entry, then X-Real-IP, then the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
