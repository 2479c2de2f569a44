// Package security provides token verification and origin checks for the
// attendance service.
package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role allowed to change the attendance switch.
const RoleAdmin = "ADMIN"

// RoleClaim is the JWT claim holding the user's role.
const RoleClaim = "roleName"

// Common errors
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingRole  = errors.New("no role found in token")
)

// Claims are the JWT claims issued by the assembly backend.
type Claims struct {
	RoleName string `json:"roleName,omitempty"`
	jwt.RegisteredClaims
}

// RoleVerifier validates HS256 tokens and extracts the role claim.
type RoleVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewRoleVerifier creates a verifier for tokens signed with secret.
func NewRoleVerifier(secret string) *RoleVerifier {
	return &RoleVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Role validates token and returns its role. A "Bearer " prefix is accepted.
// Expired or badly signed tokens yield ErrInvalidToken.
func (v *RoleVerifier) Role(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.RoleName == "" {
		return "", ErrMissingRole
	}
	return claims.RoleName, nil
}

// IsAdmin reports whether token is valid and carries the ADMIN role.
// Any verification failure counts as not admin.
func (v *RoleVerifier) IsAdmin(token string) bool {
	role, err := v.Role(token)
	return err == nil && role == RoleAdmin
}

// Issue mints a signed token for subject with role, valid for ttl.
func (v *RoleVerifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RoleName: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
