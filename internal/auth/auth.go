// Package auth implements bearer-token authentication for the HTTP API.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingHeader = errors.New("missing Authorization header")
	ErrBadFormat     = errors.New("invalid Authorization header format")
	ErrMissingToken  = errors.New("missing API key")
)

// ExtractBearerToken pulls the token out of an Authorization: Bearer header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingHeader
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrBadFormat
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Authenticate matches a presented token against the configured API key in
// constant time.
func Authenticate(presented, apiKey string) bool {
	if presented == "" || apiKey == "" {
		return false
	}
	if len(presented) != len(apiKey) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) == 1
}
