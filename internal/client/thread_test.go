package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadmail/internal/model"
)

func threadMsg(uid imap.UID, headers ...string) rawMessage {
	return rawMessage{uid: uid, body: crlf(strings.Join(headers, "\n") + "\n\nbody\n")}
}

func uidsOf(msgs []*model.Message) []imap.UID {
	out := make([]imap.UID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.UID)
	}
	return out
}

func TestResolveThreadByHeaders(t *testing.T) {
	be := inboxWith(
		threadMsg(3,
			"Subject: Re: Planning",
			"Message-Id: <c@example.test>",
			"References: <a@example.test> <b@example.test>",
			"Date: Wed, 04 Mar 2026 09:00:00 +0000",
		),
		threadMsg(1,
			"Subject: Planning",
			"Message-Id: <a@example.test>",
			"Date: Mon, 02 Mar 2026 09:00:00 +0000",
		),
		threadMsg(2,
			"Subject: Re: Planning",
			"Message-Id: <b@example.test>",
			"In-Reply-To: <a@example.test>",
			"References: <a@example.test>",
			"Date: Tue, 03 Mar 2026 09:00:00 +0000",
		),
	)
	c, _ := newTestClient(t, be, Options{})

	// Seeding from the middle of the thread finds both the ancestor and
	// the descendant.
	msgs, err := c.ResolveThread(context.Background(), "INBOX", 2)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{1, 2, 3}, uidsOf(msgs))
}

func TestResolveThreadSeedMissing(t *testing.T) {
	be := inboxWith()
	c, _ := newTestClient(t, be, Options{})

	_, err := c.ResolveThread(context.Background(), "INBOX", 404)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestResolveThreadSingleMessage(t *testing.T) {
	be := inboxWith(threadMsg(1,
		"Subject: Standalone",
		"Message-Id: <solo@example.test>",
		"Date: Mon, 02 Mar 2026 09:00:00 +0000",
	))
	c, _ := newTestClient(t, be, Options{})

	msgs, err := c.ResolveThread(context.Background(), "INBOX", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, imap.UID(1), msgs[0].UID)
}

func TestResolveThreadSubjectFallbackUnion(t *testing.T) {
	// None of these carry threading headers, so resolution falls back to
	// the subject search and unions the small result set.
	be := inboxWith(
		threadMsg(5, "Subject: Lunch", "Date: Mon, 02 Mar 2026 12:00:00 +0000"),
		threadMsg(6, "Subject: Re: Lunch", "Date: Mon, 02 Mar 2026 12:05:00 +0000"),
		threadMsg(7, "Subject: Re: Lunch", "Date: Mon, 02 Mar 2026 12:10:00 +0000"),
		threadMsg(8, "Subject: Unrelated", "Date: Mon, 02 Mar 2026 12:15:00 +0000"),
	)
	c, _ := newTestClient(t, be, Options{})

	msgs, err := c.ResolveThread(context.Background(), "INBOX", 5)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{5, 6, 7}, uidsOf(msgs))
}

func TestResolveThreadSubjectFallbackFiltersLargeResult(t *testing.T) {
	be := inboxWith(
		threadMsg(10, "Subject: Status", "Date: Mon, 02 Mar 2026 09:00:00 +0000"),
		threadMsg(11, "Subject: Re: Status", "Date: Mon, 02 Mar 2026 10:00:00 +0000"),
		threadMsg(12, "Subject: Status update for March", "Date: Mon, 02 Mar 2026 11:00:00 +0000"),
		threadMsg(13, "Subject: Status", "Date: Mon, 02 Mar 2026 12:00:00 +0000"),
	)
	// A low limit stands in for the default; the subject search finds
	// four hits, so only exact or prefixed subjects survive.
	c, _ := newTestClient(t, be, Options{SubjectFallbackLimit: 3})

	msgs, err := c.ResolveThread(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{10, 11, 13}, uidsOf(msgs))
}

func TestResolveThreadNoFallbackWhenHeadersSuffice(t *testing.T) {
	be := inboxWith(
		threadMsg(1,
			"Subject: Budget",
			"Message-Id: <a@example.test>",
			"Date: Mon, 02 Mar 2026 09:00:00 +0000",
		),
		threadMsg(2,
			"Subject: Re: Budget",
			"Message-Id: <b@example.test>",
			"References: <a@example.test>",
			"Date: Tue, 03 Mar 2026 09:00:00 +0000",
		),
		threadMsg(3,
			"Subject: Re: Budget",
			"Message-Id: <c@example.test>",
			"References: <a@example.test>",
			"Date: Wed, 04 Mar 2026 09:00:00 +0000",
		),
		// Same subject, different conversation. Header linking found
		// enough, so the subject fallback must not pull this in.
		threadMsg(9,
			"Subject: Budget",
			"Message-Id: <other@example.test>",
			"Date: Thu, 05 Mar 2026 09:00:00 +0000",
		),
	)
	c, _ := newTestClient(t, be, Options{})

	msgs, err := c.ResolveThread(context.Background(), "INBOX", 1)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{1, 2, 3}, uidsOf(msgs))
}

func TestResolveThreadPartialOnSearchFailure(t *testing.T) {
	be := inboxWith(threadMsg(1,
		"Message-Id: <a@example.test>",
		"Date: Mon, 02 Mar 2026 09:00:00 +0000",
	))
	c, _ := newTestClient(t, be, Options{})

	be.searchFn = func(string, *imap.SearchCriteria) ([]imap.UID, error) {
		return nil, errors.New("BAD search unavailable")
	}

	// Sub-search failures degrade to a partial thread, never an error.
	msgs, err := c.ResolveThread(context.Background(), "INBOX", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, imap.UID(1), msgs[0].UID)
}

func TestResolveThreadWarningsCarryConnID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	be := inboxWith(threadMsg(1,
		"Message-Id: <a@example.test>",
		"Date: Mon, 02 Mar 2026 09:00:00 +0000",
	))
	c, _ := newTestClient(t, be, Options{Logger: logger})
	be.searchFn = func(string, *imap.SearchCriteria) ([]imap.UID, error) {
		return nil, errors.New("BAD search unavailable")
	}

	_, err := c.ResolveThread(context.Background(), "INBOX", 1)
	require.NoError(t, err)

	// Sub-search warnings log through the connection-scoped logger, so
	// they carry the same correlation id as the rest of the session.
	warned := false
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "thread sub-search failed") {
			warned = true
			assert.Contains(t, line, "conn=")
		}
	}
	assert.True(t, warned)
}

func TestResolveThreadUndatedSortsFirst(t *testing.T) {
	be := inboxWith(
		threadMsg(5, "Subject: Pin", "Date: Mon, 02 Mar 2026 12:00:00 +0000"),
		threadMsg(6, "Subject: Re: Pin"),
	)
	c, _ := newTestClient(t, be, Options{})

	msgs, err := c.ResolveThread(context.Background(), "INBOX", 5)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{6, 5}, uidsOf(msgs))
}
