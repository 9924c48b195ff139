package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const authClockSkew = 2 * time.Minute

// Authenticator validates the HMAC-signed bearer tokens accepted on mutating
// methods.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds a token verifier from a shared secret. An empty
// secret yields nil, which disables authentication.
func NewAuthenticator(secret string) *Authenticator {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil
	}
	return &Authenticator{secret: []byte(trimmed)}
}

// Verify checks the Authorization header for a valid bearer token.
func (a *Authenticator) Verify(r *http.Request) error {
	if a == nil {
		return nil
	}
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return errors.New("missing bearer token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithLeeway(authClockSkew), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// IssueToken signs a short-lived token for the given subject. Used by the
// daemon's operator tooling and by tests.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	if a == nil {
		return "", errors.New("authentication disabled")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
