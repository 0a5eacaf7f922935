package client

import (
	"context"
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"

	"threadmail/internal/model"
)

const (
	// DefaultSubjectFallbackLimit is the subject-search result count at
	// which resolution stops bulk-unioning hits and filters them by exact
	// subject instead. Large result sets on a generic subject are likely
	// collisions across unrelated conversations.
	DefaultSubjectFallbackLimit = 20

	// DefaultHeaderLinkThreshold triggers the subject fallback when
	// header-based linking found this many candidates or fewer.
	DefaultHeaderLinkThreshold = 2
)

// subjectPrefixes are the reply and forward markers stripped during
// subject normalization and accepted as variants during exact matching.
var subjectPrefixes = []string{"Re:", "RE:", "Fwd:", "FWD:", "Fw:", "FW:"}

// ResolveThread discovers all messages belonging to the conversation the
// seed message is part of, returned sorted by date ascending. Undated
// messages sort first rather than hiding at the end of a long thread.
//
// Header-based linking (References and In-Reply-To, in both directions) is
// authoritative when present. Only when it finds essentially nothing does
// the resolver fall back to a subject search, which bulk-unions small
// result sets but filters large ones down to exact or prefixed subject
// matches. Individual sub-search failures are logged and skipped; partial
// results beat no results.
func (c *Client) ResolveThread(ctx context.Context, mailbox string, uid imap.UID) ([]*model.Message, error) {
	seed, err := c.FetchOne(ctx, mailbox, uid)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, &NotFoundError{Mailbox: mailbox, UID: uid}
	}

	candidates := map[imap.UID]struct{}{uid: {}}

	searchInto := func(criteria *imap.SearchCriteria, what string) {
		uids, err := c.SearchWith(ctx, mailbox, criteria)
		if err != nil {
			c.logger().Warn("thread sub-search failed", "search", what, "err", err)
			return
		}
		for _, u := range uids {
			candidates[u] = struct{}{}
		}
	}

	// Descendants: messages that point back at the seed.
	if seed.MessageID != "" {
		searchInto(headerCriteria("References", seed.MessageID), "references")
		searchInto(headerCriteria("In-Reply-To", seed.MessageID), "in-reply-to")
	}

	// Ancestors: messages the seed itself points at.
	ancestors := slices.Clone(seed.References)
	if seed.InReplyTo != "" && !slices.Contains(ancestors, seed.InReplyTo) {
		ancestors = append(ancestors, seed.InReplyTo)
	}
	for _, id := range ancestors {
		searchInto(headerCriteria("Message-Id", id), "ancestor")
	}

	if len(candidates) <= c.headerLinkThreshold() && seed.Subject != "" {
		c.resolveBySubject(ctx, mailbox, seed.Subject, candidates)
	}

	uids := make([]imap.UID, 0, len(candidates))
	for u := range candidates {
		uids = append(uids, u)
	}

	// One batched fetch; UIDs deleted since the searches ran are simply
	// absent from the result.
	msgs, err := c.FetchMany(ctx, mailbox, uids, 0)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(msgs, func(a, b *model.Message) int {
		// The zero time sorts before every real date, which places
		// undated messages first.
		if cmp := a.Date.Compare(b.Date); cmp != 0 {
			return cmp
		}
		return int(a.UID) - int(b.UID)
	})
	return msgs, nil
}

// resolveBySubject is the fallback for threads whose messages lack proper
// threading headers.
func (c *Client) resolveBySubject(ctx context.Context, mailbox, subject string, candidates map[imap.UID]struct{}) {
	normalized := NormalizeSubject(subject)
	if normalized == "" {
		return
	}

	hits, err := c.SearchWith(ctx, mailbox, headerCriteria("Subject", normalized))
	if err != nil {
		c.logger().Warn("subject fallback search failed", "err", err)
		return
	}

	if len(hits) < c.subjectFallbackLimit() {
		// Small result set: subject collisions are rare enough to take
		// every hit.
		for _, u := range hits {
			candidates[u] = struct{}{}
		}
		return
	}

	// Large result set: trade recall for precision and keep only exact
	// or prefixed-subject matches.
	msgs, err := c.FetchMany(ctx, mailbox, hits, 0)
	if err != nil {
		c.logger().Warn("subject fallback fetch failed", "err", err)
		return
	}
	for _, m := range msgs {
		if subjectMatches(normalized, m.Subject) {
			candidates[m.UID] = struct{}{}
		}
	}
}

// NormalizeSubject strips reply and forward prefixes, repeatedly, and
// trims surrounding whitespace.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := false
		for _, p := range subjectPrefixes {
			if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// subjectMatches reports whether a candidate subject equals the normalized
// subject exactly or with a single reply/forward prefix.
func subjectMatches(normalized, subject string) bool {
	if subject == normalized {
		return true
	}
	for _, p := range subjectPrefixes {
		if subject == p+" "+normalized {
			return true
		}
	}
	return false
}

func headerCriteria(key, value string) *imap.SearchCriteria {
	return &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: key, Value: value}},
	}
}

func (c *Client) subjectFallbackLimit() int {
	if c.opts.SubjectFallbackLimit > 0 {
		return c.opts.SubjectFallbackLimit
	}
	return DefaultSubjectFallbackLimit
}

func (c *Client) headerLinkThreshold() int {
	if c.opts.HeaderLinkThreshold > 0 {
		return c.opts.HeaderLinkThreshold
	}
	return DefaultHeaderLinkThreshold
}
