package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when auth is enabled and no token was sent.
var ErrMissingToken = errors.New("missing token")

// authenticator validates HS256 bearer tokens.
type authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func newAuthenticator(secret string) *authenticator {
	if secret == "" {
		return nil
	}
	return &authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// check validates the token in the Authorization header or, for browsers
// that cannot set headers on a WebSocket, the token query parameter.
func (a *authenticator) check(r *http.Request) error {
	if a == nil {
		return nil
	}

	raw := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		var ok bool
		raw, ok = strings.CutPrefix(header, "Bearer ")
		if !ok {
			return fmt.Errorf("unsupported authorization scheme")
		}
	}
	if raw == "" {
		return ErrMissingToken
	}

	token, err := a.parser.Parse(raw, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// SignToken issues an HS256 token for subject. Used by the token command
// and tests.
func SignToken(secret, subject string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	return token.SignedString([]byte(secret))
}
