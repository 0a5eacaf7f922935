package client

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

// SaveDraft appends a prepared message blob to the resolved drafts
// mailbox with the \Draft flag set. The raw bytes are treated as an
// opaque, well-formed message and are not validated here.
//
// The returned UID is the server-assigned identifier from the append
// acknowledgement; it is zero, with a nil error, when the server does not
// report one. Append failures are returned as-is and never retried.
func (c *Client) SaveDraft(ctx context.Context, raw []byte) (imap.UID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mailbox, err := c.draftsMailboxLocked(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolving drafts mailbox: %w", err)
	}
	// The inbox fallback can name a mailbox outside the allow-list; an
	// append is a write and gets the same check as any other mutation.
	if !c.allow.Allows(mailbox) {
		return 0, &AccessDeniedError{Mailbox: mailbox}
	}
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return 0, err
	}

	uid, err := c.be.appendMessage(mailbox, raw, []imap.Flag{imap.FlagDraft})
	if err != nil {
		return 0, err
	}
	c.invalidateCountLocked(mailbox)

	if uid == 0 {
		c.log.Debug("append acknowledged without a UID", "mailbox", mailbox)
	} else {
		c.log.Debug("draft saved", "mailbox", mailbox, "uid", uid)
	}
	return uid, nil
}
