// Package auth validates the bearer credential a connection presents at
// handshake time. It is the sole admission gate: nothing else runs for a
// connection until Authenticate succeeds.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/studyrooms/chatcore/internal/chat"
)

// Authenticator binds a credential to a principal or refuses it. All
// refusals map to chat.ErrUnauthenticated without distinguishing the
// reason, and validation failures are always rejection, never admission.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (principalID string, err error)
}

// HMAC validates tokens signed with a shared secret. The subject claim is
// the principal identity; expiry is required.
type HMAC struct {
	secret []byte
}

func NewHMAC(secret []byte) *HMAC {
	return &HMAC{secret: secret}
}

func (a *HMAC) Authenticate(_ context.Context, credential string) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("missing credential: %w", chat.ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", chat.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject: %w", chat.ErrUnauthenticated)
	}
	return claims.Subject, nil
}
