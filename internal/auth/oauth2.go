package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"threadmail/internal/tokencache"
)

// GmailTokenURL is the default OAuth2 token endpoint.
const GmailTokenURL = "https://oauth2.googleapis.com/token"

// GmailScopes is the default scope set for full IMAP access to Gmail.
var GmailScopes = []string{"https://mail.google.com/"}

// RefreshConfig configures a RefreshProvider.
type RefreshConfig struct {
	ClientID     string
	ClientSecret string

	// TokenURL defaults to GmailTokenURL when empty.
	TokenURL string

	// RefreshToken may be empty when a previously-persisted token is
	// available in the cache.
	RefreshToken string

	Scopes []string
}

// RefreshProvider implements TokenProvider with the OAuth2 refresh-token
// grant. Rotated tokens are persisted through an optional token cache so
// restarts reuse a still-valid access token instead of hitting the token
// endpoint again.
type RefreshProvider struct {
	account string
	cache   *tokencache.Store

	mu      sync.Mutex
	src     oauth2.TokenSource
	current Token
}

// NewRefreshProvider builds a provider for the given account. The cache
// may be nil, in which case nothing is persisted and cfg.RefreshToken is
// required.
func NewRefreshProvider(ctx context.Context, cfg RefreshConfig, account string, cache *tokencache.Store) (*RefreshProvider, error) {
	if cfg.TokenURL == "" {
		cfg.TokenURL = GmailTokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = GmailScopes
	}

	seed := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	if cache != nil {
		entry, err := cache.Load(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("loading cached token for %s: %w", account, err)
		}
		if entry != nil {
			seed.AccessToken = entry.AccessToken
			seed.Expiry = entry.ExpiresAt
			if entry.RefreshToken != "" {
				seed.RefreshToken = entry.RefreshToken
			}
		}
	}
	if seed.RefreshToken == "" {
		return nil, errors.New("a refresh token is required, either configured or previously cached")
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}

	return &RefreshProvider{
		account: account,
		cache:   cache,
		src:     conf.TokenSource(ctx, seed),
	}, nil
}

// Token returns a currently-valid access token, refreshing through the
// token endpoint when the held one is stale.
func (p *RefreshProvider) Token(ctx context.Context) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.Valid(time.Now()) {
		return p.current, nil
	}

	tok, err := p.src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("refreshing access token: %w", err)
	}
	p.current = Token{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}

	if p.cache != nil {
		// Persistence is best effort; a failed write only costs an extra
		// refresh on the next start.
		_ = p.cache.Save(ctx, p.account, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	}
	return p.current, nil
}
