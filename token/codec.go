// Package token issues and verifies the HMAC-signed JWTs that identify API callers.
//
// A Codec is built once at startup from validated configuration and shared by the
// auth handlers (issuance) and the auth middleware (verification). Verification
// failures are reported as sentinel errors so callers can collapse every failure mode
// into a single HTTP 401.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted signing secret length in bytes
const MinSecretLength = 32

var (
	// ErrTokenMalformed is returned when the token is not three decodable segments
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenSignatureInvalid is returned when the signature or algorithm does not match
	ErrTokenSignatureInvalid = errors.New("token signature invalid")

	// ErrTokenExpired is returned when exp is in the past or absent
	ErrTokenExpired = errors.New("token expired")

	// ErrClaimMissing is returned when no usable user identifier is present
	ErrClaimMissing = errors.New("token has no usable user identifier")

	// ErrConfigInvalid is returned by NewCodec for an unusable secret, algorithm or TTL
	ErrConfigInvalid = errors.New("invalid token configuration")
)

var supportedMethods = map[string]*jwt.SigningMethodHMAC{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// Config holds configuration for Codec
type Config struct {
	Secret     string
	Algorithm  string
	DefaultTTL time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Codec signs and verifies tokens with a single shared secret and algorithm
type Codec struct {
	secret     []byte
	method     *jwt.SigningMethodHMAC
	defaultTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewCodec creates a Codec. The configuration is copied; later changes to cfg have no effect.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrConfigInvalid, MinSecretLength)
	}
	method, ok := supportedMethods[cfg.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfigInvalid, cfg.Algorithm)
	}
	if cfg.DefaultTTL <= 0 {
		return nil, fmt.Errorf("%w: default ttl must be positive", ErrConfigInvalid)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Codec{
		secret:     []byte(cfg.Secret),
		method:     method,
		defaultTTL: cfg.DefaultTTL,
		now:        now,
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
		jwt.WithJSONNumber(),
	)
	return c, nil
}

// Algorithm returns the configured signing algorithm name
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// DefaultTTL returns the lifetime applied when Issue is called with a zero ttl
func (c *Codec) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Issue signs claims with IssuedAt set to now and ExpiresAt to now+ttl.
// A zero ttl selects the default lifetime; a negative ttl produces an already expired token.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := time.Unix(c.now().Unix(), 0)
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(ttl)

	wire := claims.toWire()
	if wire.Subject == "" && wire.UserID == nil {
		return "", ErrClaimMissing
	}

	signed, err := jwt.NewWithClaims(c.method, wire).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's structure, signature, algorithm and expiry and returns its
// claims. The returned Claims always carry a positive UserID.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	wire := &wireClaims{}
	_, err := c.parser.ParseWithClaims(tokenString, wire, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, err := wire.toClaims()
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ExtractUserID verifies the token and returns the identified user
func (c *Codec) ExtractUserID(tokenString string) (int64, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// IsExpired reports whether the token's exp has passed, without checking the signature.
// Undecodable tokens and tokens without exp count as expired.
func (c *Codec) IsExpired(tokenString string) bool {
	wire := &wireClaims{}
	if _, _, err := c.parser.ParseUnverified(tokenString, wire); err != nil {
		return true
	}
	if wire.ExpiresAt == nil {
		return true
	}
	return !c.now().Before(wire.ExpiresAt.Time)
}

// classify maps library errors onto the package sentinels
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
