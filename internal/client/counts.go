package client

import (
	"context"
	"fmt"
	"time"
)

// CountKind selects which per-mailbox message count to return.
type CountKind string

const (
	CountTotal  CountKind = "total"
	CountUnread CountKind = "unread"
	CountRead   CountKind = "read"
)

// countEntry holds all three counts from one STATUS query. Read is always
// derived from that single query, never computed from two separate ones,
// so the three values are mutually consistent even while mail is arriving.
type countEntry struct {
	total     uint32
	unread    uint32
	read      uint32
	fetchedAt time.Time
}

// MessageCount returns the requested count for a mailbox. The cached entry
// is used unless refresh is set or the mailbox has no entry; a refresh
// issues exactly one STATUS query and stores total, unread and the derived
// read count under one timestamp.
func (c *Client) MessageCount(ctx context.Context, mailbox string, kind CountKind, refresh bool) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.allow.Allows(mailbox) {
		return 0, &AccessDeniedError{Mailbox: mailbox}
	}

	entry, ok := c.counts[mailbox]
	if refresh || !ok {
		if err := c.ensureConnectedLocked(ctx); err != nil {
			return 0, err
		}
		total, unseen, err := c.be.status(mailbox)
		if err != nil {
			return 0, err
		}
		if unseen > total {
			// Some servers report STATUS counts from slightly different
			// snapshots; clamp rather than underflow.
			unseen = total
		}
		entry = countEntry{
			total:     total,
			unread:    unseen,
			read:      total - unseen,
			fetchedAt: time.Now(),
		}
		if c.counts == nil {
			c.counts = make(map[string]countEntry)
		}
		c.counts[mailbox] = entry
	}

	switch kind {
	case CountTotal:
		return entry.total, nil
	case CountUnread:
		return entry.unread, nil
	case CountRead:
		return entry.read, nil
	default:
		return 0, fmt.Errorf("unknown count kind %q", kind)
	}
}

// invalidateCountLocked drops the cached counts for a mailbox. Every
// mutating operation calls this before returning so the next read through
// this client cannot observe the pre-mutation value.
func (c *Client) invalidateCountLocked(mailbox string) {
	delete(c.counts, mailbox)
}
