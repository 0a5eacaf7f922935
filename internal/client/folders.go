package client

import (
	"context"
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// AllowList is an immutable set of permitted mailbox names. The zero value
// is unrestricted.
type AllowList struct {
	names map[string]struct{}
}

// NewAllowList builds an allow-list from the given names. With no names
// the list is unrestricted.
func NewAllowList(names ...string) AllowList {
	if len(names) == 0 {
		return AllowList{}
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return AllowList{names: set}
}

// Unrestricted reports whether every mailbox is permitted.
func (l AllowList) Unrestricted() bool { return l.names == nil }

// Allows reports whether the named mailbox is permitted.
func (l AllowList) Allows(name string) bool {
	if l.names == nil {
		return true
	}
	_, ok := l.names[name]
	return ok
}

// ListFolders returns the mailbox names visible to this session. The
// server is queried on the first call or when refresh is set; otherwise
// the cached listing is returned. The cache is replaced wholesale on every
// refresh so renamed mailboxes cannot linger.
func (c *Client) ListFolders(ctx context.Context, refresh bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listFoldersLocked(ctx, refresh)
}

func (c *Client) listFoldersLocked(ctx context.Context, refresh bool) ([]string, error) {
	if !refresh && c.folderNames != nil {
		return slices.Clone(c.folderNames), nil
	}

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return nil, err
	}
	entries, err := c.be.list()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	c.folderAttrs = make(map[string][]imap.MailboxAttr, len(entries))
	for _, e := range entries {
		if !c.allow.Allows(e.name) {
			continue
		}
		names = append(names, e.name)
		c.folderAttrs[e.name] = e.attrs
	}
	c.folderNames = names
	c.log.Debug("listed mailboxes", "count", len(names))
	return slices.Clone(names), nil
}

// draftsSpellings are common localized names for the drafts mailbox,
// matched case-insensitively.
var draftsSpellings = []string{
	"Drafts",
	"Draft",
	"INBOX.Drafts",
	"INBOX/Drafts",
	"Entwürfe",
	"Brouillons",
	"Borradores",
	"Bozze",
	"Rascunhos",
	"Черновики",
	"下書き",
	"草稿",
}

// DraftsMailbox resolves the mailbox drafts should be stored in.
// Provider-specific naming is checked before the generic spellings because
// the generic match can hit an unrelated mailbox on some servers; when
// nothing matches, the primary inbox is used.
func (c *Client) DraftsMailbox(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draftsMailboxLocked(ctx)
}

func (c *Client) draftsMailboxLocked(ctx context.Context) (string, error) {
	folders, err := c.listFoldersLocked(ctx, false)
	if err != nil {
		return "", err
	}

	if c.isGmailLocked(folders) {
		for _, name := range folders {
			if strings.HasSuffix(strings.ToLower(name), "/drafts") {
				return name, nil
			}
		}
	}

	for _, name := range folders {
		for _, spelling := range draftsSpellings {
			if strings.EqualFold(name, spelling) {
				return name, nil
			}
		}
	}

	c.log.Debug("no drafts mailbox found, falling back to inbox")
	return "INBOX", nil
}

// isGmailLocked recognizes Gmail-style accounts by hostname or by the
// provider's characteristic mailbox namespace.
func (c *Client) isGmailLocked(folders []string) bool {
	host := strings.ToLower(c.opts.Host)
	if strings.Contains(host, "gmail") || strings.Contains(host, "googlemail") {
		return true
	}
	for _, name := range folders {
		if strings.HasPrefix(name, "[Gmail]") || strings.HasPrefix(name, "[Google Mail]") {
			return true
		}
	}
	return false
}
