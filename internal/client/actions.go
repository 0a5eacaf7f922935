package client

import (
	"context"

	"github.com/emersion/go-imap/v2"
)

// MarkMessage adds or removes a flag on one message. The mailbox is
// selected read-write and its count cache is invalidated before the call
// returns.
func (c *Client) MarkMessage(ctx context.Context, mailbox string, uid imap.UID, flag imap.Flag, set bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectMailboxLocked(ctx, mailbox, false); err != nil {
		return err
	}

	op := imap.StoreFlagsAdd
	if !set {
		op = imap.StoreFlagsDel
	}
	if err := c.be.storeFlags([]imap.UID{uid}, op, []imap.Flag{flag}); err != nil {
		c.log.Warn("failed to mark message", "mailbox", mailbox, "uid", uid, "flag", flag, "err", err)
		return err
	}

	c.invalidateCountLocked(mailbox)
	c.log.Debug("marked message", "mailbox", mailbox, "uid", uid, "flag", flag, "set", set)
	return nil
}

// MoveMessage moves one message to another mailbox. Both ends of the move
// must pass the allow-list; the count caches of both are invalidated.
func (c *Client) MoveMessage(ctx context.Context, mailbox, dest string, uid imap.UID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.allow.Allows(dest) {
		return &AccessDeniedError{Mailbox: dest}
	}
	if err := c.selectMailboxLocked(ctx, mailbox, false); err != nil {
		return err
	}

	if err := c.be.move([]imap.UID{uid}, dest); err != nil {
		c.log.Warn("failed to move message", "from", mailbox, "to", dest, "uid", uid, "err", err)
		return err
	}

	c.invalidateCountLocked(mailbox)
	c.invalidateCountLocked(dest)
	c.log.Debug("moved message", "from", mailbox, "to", dest, "uid", uid)
	return nil
}

// DeleteMessage flags one message as deleted and expunges the mailbox.
func (c *Client) DeleteMessage(ctx context.Context, mailbox string, uid imap.UID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectMailboxLocked(ctx, mailbox, false); err != nil {
		return err
	}

	if err := c.be.storeFlags([]imap.UID{uid}, imap.StoreFlagsAdd, []imap.Flag{imap.FlagDeleted}); err != nil {
		c.log.Warn("failed to flag message deleted", "mailbox", mailbox, "uid", uid, "err", err)
		return err
	}
	if err := c.be.expunge(); err != nil {
		c.log.Warn("failed to expunge", "mailbox", mailbox, "err", err)
		return err
	}

	c.invalidateCountLocked(mailbox)
	c.log.Debug("deleted message", "mailbox", mailbox, "uid", uid)
	return nil
}
