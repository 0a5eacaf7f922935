package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenValid(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token Token
		want  bool
	}{
		{"empty", Token{}, false},
		{"no expiry", Token{AccessToken: "t"}, false},
		{"expired", Token{AccessToken: "t", ExpiresAt: now.Add(-time.Hour)}, false},
		{"inside slack window", Token{AccessToken: "t", ExpiresAt: now.Add(ExpirySlack - time.Second)}, false},
		{"valid", Token{AccessToken: "t", ExpiresAt: now.Add(time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Valid(now))
		})
	}
}

func TestStaticProvider(t *testing.T) {
	want := Token{AccessToken: "fixed", ExpiresAt: time.Now().Add(time.Hour)}
	got, err := StaticProvider(want).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestXOAuth2Start(t *testing.T) {
	c := NewXOAuth2Client("user@example.test", "ya29.token")

	mech, resp, err := c.Start()
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, []byte("user=user@example.test\x01auth=Bearer ya29.token\x01\x01"), resp)
}

func TestXOAuth2NextAnswersErrorChallengeOnce(t *testing.T) {
	c := NewXOAuth2Client("u", "t")
	_, _, err := c.Start()
	require.NoError(t, err)

	resp, err := c.Next([]byte(`{"status":"400"}`))
	require.NoError(t, err)
	assert.Empty(t, resp)

	_, err = c.Next(nil)
	require.Error(t, err)
}
