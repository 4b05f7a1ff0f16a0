// Package auth issues and verifies staff bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

var ErrInvalidToken = errors.New("invalid token")

// Staff is the identity behind an authenticated admin request.
type Staff struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s Staff) IsStaff() bool { return s.Role == RoleAdmin || s.Role == RoleSuperAdmin }

// HasRole reports whether s holds one of roles. A superadmin holds every role.
func (s Staff) HasRole(roles ...string) bool {
	if s.Role == RoleSuperAdmin {
		return true
	}
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	Secret []byte
	Issuer string
}

// Issue signs an HS256 token for s valid for ttl.
func (v *Verifier) Issue(s Staff, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: s.Email,
		Role:  s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(v.Secret)
}

// Parse verifies the signature and expiry of raw and returns the staff it names.
func (v *Verifier) Parse(raw string) (Staff, error) {
	if len(v.Secret) == 0 {
		return Staff{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Staff{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if v.Issuer != "" && c.Issuer != v.Issuer {
		return Staff{}, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}
	s := Staff{ID: c.Subject, Email: c.Email, Role: c.Role}
	if s.ID == "" || !s.IsStaff() {
		return Staff{}, fmt.Errorf("%w: not a staff token", ErrInvalidToken)
	}
	return s, nil
}

type ctxKey struct{}

func WithStaff(ctx context.Context, s Staff) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func StaffFrom(ctx context.Context) (Staff, bool) {
	s, ok := ctx.Value(ctxKey{}).(Staff)
	return s, ok
}
