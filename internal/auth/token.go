// Package auth provides bearer-token acquisition for IMAP authentication:
// the TokenProvider contract, a refresh-token grant implementation, and
// the XOAUTH2 SASL mechanism.
package auth

import (
	"context"
	"time"
)

// ExpirySlack is how close to expiry a token is still treated as valid.
// Tokens inside this window are replaced before use so an authentication
// attempt never races the expiry.
const ExpirySlack = 5 * time.Minute

// Token is a bearer credential with its expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at the given time.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && t.ExpiresAt.After(now.Add(ExpirySlack))
}

// TokenProvider supplies a currently-valid bearer token. Implementations
// own refresh-before-expiry; consumers only cache tokens and ask again
// once they go stale.
type TokenProvider interface {
	Token(ctx context.Context) (Token, error)
}

// StaticProvider returns a fixed token. Useful for tests and for
// short-lived tooling that already holds a token from elsewhere.
type StaticProvider Token

func (p StaticProvider) Token(_ context.Context) (Token, error) {
	return Token(p), nil
}
