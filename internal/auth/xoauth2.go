package auth

import (
	"errors"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the SASL XOAUTH2 mechanism used by Gmail and
// Outlook IMAP endpoints.
type xoauth2Client struct {
	username string
	token    string
	done     bool
}

// NewXOAuth2Client returns a SASL client that authenticates with the
// given bearer token over XOAUTH2.
func NewXOAuth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{username: username, token: accessToken}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	resp := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", resp, nil
}

// Next handles the error challenge the server sends when the token is
// rejected: the client answers with an empty response so the server
// finishes with a tagged NO instead of hanging the exchange.
func (c *xoauth2Client) Next(_ []byte) ([]byte, error) {
	if c.done {
		return nil, errors.New("xoauth2: unexpected server challenge")
	}
	c.done = true
	return []byte{}, nil
}
