// Package auth turns bearer credentials into a request-scoped Principal. The
// core trusts this identity for every acting-user check and never reads
// ambient session state.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

const (
	RoleConsumer = "consumer"
	RoleProvider = "provider"
)

type Principal struct {
	UserID string
	Role   string
}

type claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 bearer token and extracts the principal.
func ParseToken(token, secret string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.UserID == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: c.UserID, Role: c.Role}, nil
}

// NewToken signs a principal into a token. Used by tests and local tooling;
// real tokens come from the auth service.
func NewToken(p Principal, secret string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{UserID: p.UserID, Role: p.Role})
	return t.SignedString([]byte(secret))
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
