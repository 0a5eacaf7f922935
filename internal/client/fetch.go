package client

import (
	"context"

	"github.com/emersion/go-imap/v2"

	"threadmail/internal/model"
)

// FetchOne retrieves and parses a single message. The mailbox is selected
// read-only and the body is fetched with peek, so reading never sets
// \Seen. A UID that does not exist yields (nil, nil): absence is a normal
// outcome, not a failure.
func (c *Client) FetchOne(ctx context.Context, mailbox string, uid imap.UID) (*model.Message, error) {
	msgs, err := c.FetchMany(ctx, mailbox, []imap.UID{uid}, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		c.logger().Debug("message not found", "mailbox", mailbox, "uid", uid)
		return nil, nil
	}
	return msgs[0], nil
}

// FetchMany retrieves and parses a batch of messages. When limit is
// positive the UID list is truncated before the protocol call, so the
// server is never asked for more than the caller wants. UIDs that do not
// exist are simply absent from the result.
func (c *Client) FetchMany(ctx context.Context, mailbox string, uids []imap.UID, limit int) ([]*model.Message, error) {
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectMailboxLocked(ctx, mailbox, true); err != nil {
		return nil, err
	}
	raws, err := c.be.fetchRaw(uids)
	if err != nil {
		return nil, err
	}

	msgs := make([]*model.Message, 0, len(raws))
	for _, raw := range raws {
		msgs = append(msgs, model.ParseMessage(raw.body, raw.uid, mailbox, raw.flags))
	}
	return msgs, nil
}
