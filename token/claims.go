package token

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded payload of a verified token
type Claims struct {
	Subject   string
	UserID    int64
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// wireClaims is the JSON layout carried inside the token. user_id may arrive as a number
// or a string depending on the issuer, so it is decoded loosely.
type wireClaims struct {
	jwt.RegisteredClaims
	UserID interface{} `json:"user_id,omitempty"`
	Email  string      `json:"email,omitempty"`
}

func (c Claims) toWire() *wireClaims {
	w := &wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
		Email: c.Email,
	}
	if c.UserID > 0 {
		w.UserID = c.UserID
		if w.Subject == "" {
			w.Subject = strconv.FormatInt(c.UserID, 10)
		}
	}
	return w
}

func (w *wireClaims) toClaims() (*Claims, error) {
	userID, err := resolveUserID(w.UserID, w.Subject)
	if err != nil {
		return nil, err
	}
	claims := &Claims{
		Subject: w.Subject,
		UserID:  userID,
		Email:   w.Email,
	}
	if w.IssuedAt != nil {
		claims.IssuedAt = w.IssuedAt.Time
	}
	if w.ExpiresAt != nil {
		claims.ExpiresAt = w.ExpiresAt.Time
	}
	return claims, nil
}

// resolveUserID prefers a present user_id claim and falls back to sub only when
// user_id is absent, null or an empty string. The chosen value must be a positive
// integer; a user_id of 0 does not fall through to sub.
func resolveUserID(raw interface{}, subject string) (int64, error) {
	if !isAbsentClaim(raw) {
		return parseUserID(raw)
	}
	if subject == "" {
		return 0, ErrClaimMissing
	}
	return parseUserID(subject)
}

func isAbsentClaim(raw interface{}) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	return false
}

func parseUserID(raw interface{}) (int64, error) {
	var (
		id  int64
		err error
	)
	switch v := raw.(type) {
	case json.Number:
		id, err = v.Int64()
	case string:
		id, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case float64:
		if v != float64(int64(v)) {
			err = fmt.Errorf("fractional user id %v", v)
		}
		id = int64(v)
	case int64:
		id = v
	default:
		err = fmt.Errorf("unsupported user id type %T", raw)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClaimMissing, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: user id must be positive", ErrClaimMissing)
	}
	return id, nil
}
