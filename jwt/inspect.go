package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when an access token is not a JWS compact string.
// Servers may issue opaque tokens; callers treat this as "no metadata".
var ErrNotJWT = errors.New("access token is not a JWT")

// Inspector reads access-token claims on the client. Without a verifier it
// decodes claims without checking the signature. With one, tokens that fail
// the signature or issuer check yield no claims. Time claims are never
// enforced here: an expired token still reports its exp.
type Inspector struct {
	verifier *Manager
}

// NewInspector returns an Inspector. verifier may be nil.
func NewInspector(verifier *Manager) *Inspector {
	return &Inspector{verifier: verifier}
}

// Inspect returns the claims of token. A "Bearer " scheme is ignored.
func (i *Inspector) Inspect(token string) (*AccessClaims, error) {
	token = StripBearer(token)
	if strings.Count(token, ".") != 2 {
		return nil, ErrNotJWT
	}

	if i != nil && i.verifier != nil {
		return i.verifier.verifySignature(token)
	}

	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expiry returns the iat and exp claims. ok is false when the token is not a
// readable JWT or carries no exp.
func (i *Inspector) Expiry(token string) (issuedAt, expiresAt time.Time, ok bool) {
	claims, err := i.Inspect(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, time.Time{}, false
	}
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	return issuedAt, claims.ExpiresAt.Time, true
}
