package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gridleaf/cellgauge/internal/config"
	"go.uber.org/fx"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the caller extracted from a verified bearer token.
type Identity struct {
	Subject string
	Email   string
}

// Verifier validates HS256 bearer tokens issued by the identity
// provider fronting this API.
type Verifier struct {
	secret []byte
}

func NewVerifier(cfg config.Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		return nil, errors.New("auth jwt secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

func (v *Verifier) Verify(bearer string) (Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Identity{}, ErrUnauthenticated
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}

	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Identity{}, ErrUnauthenticated
	}

	email, _ := claims["email"].(string)
	return Identity{
		Subject: strings.TrimSpace(subject),
		Email:   strings.TrimSpace(email),
	}, nil
}

var Module = fx.Module("auth",
	fx.Provide(NewVerifier),
)
