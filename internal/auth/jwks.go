package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/chat"
)

// JWKS validates tokens against a remote key set, for deployments where an
// external identity provider issues the bearer tokens. Keys are fetched
// once and refreshed in the background.
type JWKS struct {
	jwks *keyfunc.JWKS
}

// NewJWKS fetches the key set with retries, since the identity provider may
// still be starting when the gateway comes up.
func NewJWKS(ctx context.Context, jwksURL string, log *zap.Logger) (*JWKS, error) {
	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   5 * time.Minute,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.Warn("jwks refresh failed", zap.Error(err))
			},
		})
		if err == nil {
			return &JWKS{jwks: jwks}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("fetch jwks from %s: %w", jwksURL, err)
}

func (a *JWKS) Authenticate(_ context.Context, credential string) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("missing credential: %w", chat.ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, a.jwks.Keyfunc, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", chat.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject: %w", chat.ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Close stops the background key refresh.
func (a *JWKS) Close() {
	a.jwks.EndBackground()
}
