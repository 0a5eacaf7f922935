package client

import (
	"context"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// flagRecent is IMAP4rev1 only; kept so the "recent" token retains its
// meaning on servers that still support it.
const flagRecent = imap.Flag("\\Recent")

// Translate maps a symbolic search token to native search criteria. The
// vocabulary is: all, unseen, seen, answered, unanswered, deleted,
// undeleted, flagged, unflagged, recent, today, yesterday, week, month.
// Date tokens are computed against now with calendar-day granularity. The
// second return value is false for anything outside the vocabulary.
func Translate(token string, now time.Time) (*imap.SearchCriteria, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch strings.ToLower(token) {
	case "all":
		return &imap.SearchCriteria{}, true
	case "unseen":
		return &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}, true
	case "seen":
		return &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagSeen}}, true
	case "answered":
		return &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagAnswered}}, true
	case "unanswered":
		return &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagAnswered}}, true
	case "deleted":
		return &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagDeleted}}, true
	case "undeleted":
		return &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagDeleted}}, true
	case "flagged":
		return &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagFlagged}}, true
	case "unflagged":
		return &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagFlagged}}, true
	case "recent":
		return &imap.SearchCriteria{Flag: []imap.Flag{flagRecent}}, true
	case "today":
		return &imap.SearchCriteria{Since: today}, true
	case "yesterday":
		return &imap.SearchCriteria{Since: today.AddDate(0, 0, -1), Before: today}, true
	case "week":
		return &imap.SearchCriteria{Since: today.AddDate(0, 0, -7)}, true
	case "month":
		return &imap.SearchCriteria{Since: today.AddDate(0, 0, -30)}, true
	}
	return nil, false
}

// Search runs a search in the given mailbox. Tokens from the symbolic
// vocabulary are translated to native criteria; anything else is submitted
// as a full-text search.
func (c *Client) Search(ctx context.Context, mailbox, query string) ([]imap.UID, error) {
	criteria, ok := Translate(query, time.Now())
	if !ok {
		criteria = &imap.SearchCriteria{Text: []string{query}}
	}
	return c.SearchWith(ctx, mailbox, criteria)
}

// SearchWith runs a search with explicit criteria, passed through to the
// server unmodified. The mailbox is selected read-only.
func (c *Client) SearchWith(ctx context.Context, mailbox string, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectMailboxLocked(ctx, mailbox, true); err != nil {
		return nil, err
	}
	uids, err := c.be.searchUIDs(criteria)
	if err != nil {
		return nil, err
	}
	c.log.Debug("search finished", "mailbox", mailbox, "results", len(uids))
	return uids, nil
}
