package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type providerClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier checks provider-issued bearer tokens. Tokens are HMAC-signed
// JWTs with the participant in `sub` and display name in `name`.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(token string) (Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &providerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrExpiredToken
		}
		return Actor{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*providerClaims)
	if !ok || claims.Subject == "" {
		return Actor{}, ErrInvalidToken
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Actor{ID: claims.Subject, Name: name}, nil
}

// IssueToken signs a token for an actor. Production tokens come from the
// auth provider; this exists for local development and tests.
func IssueToken(secret []byte, actor Actor, expiresAt time.Time) (string, error) {
	claims := providerClaims{
		Name: actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
