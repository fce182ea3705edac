package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrBadToken = errors.New("invalid token")

// Resolver turns connection credentials into a user id. The session
// core trusts whatever id comes out of here.
type Resolver interface {
	Resolve(token, claimedID string) (string, error)
}

// JWTResolver validates an HMAC-signed token and uses its subject as
// the user id. The claimed id from the client is ignored.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(token, _ string) (string, error) {
	if token == "" {
		return "", ErrBadToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrBadToken
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrBadToken
	}
	return sub, nil
}

// GuestResolver accepts the caller-supplied id as-is, minting a fresh
// one when absent. For dev and test runs without an auth service.
type GuestResolver struct{}

func (GuestResolver) Resolve(_, claimedID string) (string, error) {
	if claimedID != "" {
		return claimedID, nil
	}
	return "guest-" + uuid.NewString()[:8], nil
}
