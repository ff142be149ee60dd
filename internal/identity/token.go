// Package identity is the boundary to the external identity provider: it
// verifies session tokens presented by API callers and decodes the
// provider's signed lifecycle webhooks. It never touches the store.
package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the provider asserts about a caller.
type Identity struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
}

type tokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// TokenVerifier validates provider session JWTs (HS256, shared secret).
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

var ErrInvalidToken = errors.New("identity: invalid token")

func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	var claims tokenClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		ExternalID:    claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
