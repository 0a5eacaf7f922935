// Package client implements a stateful IMAP session layer: lazy
// connection management with password or bearer-token authentication,
// mailbox access control, folder and count caching, message fetching and
// conversation-thread resolution.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"

	"threadmail/internal/auth"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Options configures a Client. Exactly one of Password or TokenProvider
// selects the authentication branch; TokenProvider wins when both are set.
type Options struct {
	Host     string
	Port     int
	Username string
	UseSSL   bool

	Password      string
	TokenProvider auth.TokenProvider

	// AllowedFolders restricts the mailboxes this session may touch.
	// Empty means unrestricted.
	AllowedFolders []string

	Logger *slog.Logger

	// Thread resolution tuning. Zero values take the package defaults.
	SubjectFallbackLimit int
	HeaderLinkThreshold  int
}

// Client owns one IMAP connection and the caches built on top of it. All
// public operations are serialized by an internal mutex; the underlying
// transport never sees interleaved commands.
type Client struct {
	opts  Options
	allow AllowList
	dial  func(*Options) (backend, error)

	mu               sync.Mutex
	log              *slog.Logger
	be               backend
	state            connState
	selected         string
	selectedReadOnly bool
	token            auth.Token

	folderNames []string
	folderAttrs map[string][]imap.MailboxAttr

	counts map[string]countEntry
}

// New creates a Client for the given server. No connection is made until
// the first operation or an explicit EnsureConnected.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:  opts,
		allow: NewAllowList(opts.AllowedFolders...),
		dial:  dialBackend,
		log:   logger,
	}
}

// Allows reports whether the session may access the named mailbox.
func (c *Client) Allows(name string) bool {
	return c.allow.Allows(name)
}

// EnsureConnected establishes an authenticated session if one is not
// already live. Every other operation calls this implicitly, so callers
// never have to manage connection state themselves.
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnectedLocked(ctx)
}

func (c *Client) ensureConnectedLocked(ctx context.Context) error {
	if c.state == stateConnected && c.be != nil {
		return nil
	}

	c.state = stateConnecting
	be, err := c.dial(&c.opts)
	if err != nil {
		c.state = stateDisconnected
		return &ConnectionError{Op: "dial", Err: err}
	}

	if err := c.authenticateLocked(ctx, be); err != nil {
		// Best effort; the handle is dropped either way.
		_ = be.logout()
		c.state = stateDisconnected
		return err
	}

	c.be = be
	c.state = stateConnected
	c.selected = ""
	c.log = c.baseLogger().With("conn", shortID())
	c.log.Debug("connected", "host", c.opts.Host, "user", c.opts.Username)
	return nil
}

func (c *Client) authenticateLocked(ctx context.Context, be backend) error {
	if c.opts.TokenProvider != nil {
		if !c.token.Valid(time.Now()) {
			tok, err := c.opts.TokenProvider.Token(ctx)
			if err != nil {
				return &AuthError{Username: c.opts.Username, Err: err}
			}
			c.token = tok
		}
		saslClient := auth.NewXOAuth2Client(c.opts.Username, c.token.AccessToken)
		if err := be.authenticate(saslClient); err != nil {
			// Do not reuse a rejected token on the next attempt.
			c.token = auth.Token{}
			return &AuthError{Username: c.opts.Username, Err: err}
		}
		return nil
	}

	if c.opts.Password == "" {
		return &AuthError{Username: c.opts.Username, Err: errors.New("password is required")}
	}
	if err := be.login(c.opts.Username, c.opts.Password); err != nil {
		return &AuthError{Username: c.opts.Username, Err: err}
	}
	return nil
}

// Disconnect performs a graceful logout. Logout failures are logged and
// swallowed; the transport handle is released and the state reset
// unconditionally.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.be != nil {
		if err := c.be.logout(); err != nil {
			c.log.Warn("error during logout", "err", err)
		}
	}
	c.be = nil
	c.state = stateDisconnected
	c.selected = ""
	c.log.Debug("disconnected")
	c.log = c.baseLogger()
}

// SelectMailbox opens the named mailbox. Readonly selection is used for
// all reads so that transient flags are never cleared as a side effect;
// read-write selection is reserved for mutating operations.
func (c *Client) SelectMailbox(ctx context.Context, name string, readonly bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectMailboxLocked(ctx, name, readonly)
}

func (c *Client) selectMailboxLocked(ctx context.Context, name string, readonly bool) error {
	// The allow-list check comes first: a denied mailbox must not cause
	// any protocol traffic, not even a dial.
	if !c.allow.Allows(name) {
		return &AccessDeniedError{Mailbox: name}
	}
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return err
	}
	if c.selected == name && c.selectedReadOnly == readonly {
		return nil
	}

	if err := c.be.selectMailbox(name, readonly); err != nil {
		c.selected = ""
		return err
	}
	c.selected = name
	c.selectedReadOnly = readonly
	c.log.Debug("selected mailbox", "mailbox", name, "readonly", readonly)
	return nil
}

// logger snapshots the connection-scoped logger for use outside the
// mutex, so warnings from composite operations keep the conn id.
func (c *Client) logger() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *Client) baseLogger() *slog.Logger {
	if c.opts.Logger != nil {
		return c.opts.Logger
	}
	return slog.Default()
}

func shortID() string {
	return uuid.NewString()[:8]
}
