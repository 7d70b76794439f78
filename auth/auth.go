// Package auth supplies the bearer credentials a client presents when it
// connects to a job server, and a validator for the server side of the
// exchange.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoToken is returned when a source has no token to offer.
var ErrNoToken = errors.New("no token available")

// TokenSource supplies the bearer token sent when a connection is opened.
// Implementations must be safe for concurrent use.
type TokenSource interface {
	// Token returns a token valid at the time of the call.
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// BearerPrefix precedes the token in the Authorization header.
const BearerPrefix = "Bearer "

// Header returns an Authorization header carrying a token from src. A nil
// src yields an empty header.
func Header(ctx context.Context, src TokenSource) (http.Header, error) {
	h := make(http.Header)
	if src == nil {
		return h, nil
	}
	token, err := src.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}
	h.Set("Authorization", BearerPrefix+token)
	return h, nil
}

// TokenFromHeader extracts a bearer token from an Authorization header value.
func TokenFromHeader(value string) (string, bool) {
	if len(value) < len(BearerPrefix) || !strings.EqualFold(value[:len(BearerPrefix)], BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(value[len(BearerPrefix):])
	return token, token != ""
}
