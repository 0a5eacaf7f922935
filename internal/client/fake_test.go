package client

import (
	"context"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-sasl"

	"threadmail/internal/auth"
	"threadmail/internal/model"
)

// fakeBackend implements the backend interface in memory so session
// behavior can be exercised without a server.
type fakeBackend struct {
	folders   []listEntry
	mailboxes map[string][]rawMessage
	totals    map[string][2]uint32 // total, unseen
	appendUID imap.UID

	// searchFn overrides search behavior; when nil, searches match
	// header criteria against the parsed messages of the selected mailbox.
	searchFn func(selected string, criteria *imap.SearchCriteria) ([]imap.UID, error)

	loginErr   error
	authErr    error
	selectErr  error
	listErr    error
	statusErr  error
	searchErr  error
	fetchErr   error
	storeErr   error
	moveErr    error
	expungeErr error
	appendErr  error
	logoutErr  error

	selected         string
	selectedReadOnly bool

	loginCalls   int
	authCalls    int
	selectCalls  int
	listCalls    int
	statusCalls  int
	searchCalls  int
	fetchCalls   int
	expungeCalls int
	logoutCalls  int

	lastAuthMech string
	lastAuthResp []byte
	lastFetched  []imap.UID
	lastCriteria *imap.SearchCriteria
	stores       []storeCall
	moves        []moveCall
	appends      []appendCall
}

type storeCall struct {
	uids  []imap.UID
	op    imap.StoreFlagsOp
	flags []imap.Flag
}

type moveCall struct {
	uids []imap.UID
	dest string
}

type appendCall struct {
	mailbox string
	raw     []byte
	flags   []imap.Flag
}

func (f *fakeBackend) login(username, password string) error {
	f.loginCalls++
	return f.loginErr
}

func (f *fakeBackend) authenticate(saslClient sasl.Client) error {
	f.authCalls++
	mech, resp, err := saslClient.Start()
	if err != nil {
		return err
	}
	f.lastAuthMech = mech
	f.lastAuthResp = resp
	return f.authErr
}

func (f *fakeBackend) selectMailbox(name string, readOnly bool) error {
	f.selectCalls++
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selected = name
	f.selectedReadOnly = readOnly
	return nil
}

func (f *fakeBackend) list() ([]listEntry, error) {
	f.listCalls++
	return f.folders, f.listErr
}

func (f *fakeBackend) status(mailbox string) (uint32, uint32, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return 0, 0, f.statusErr
	}
	counts := f.totals[mailbox]
	return counts[0], counts[1], nil
}

func (f *fakeBackend) searchUIDs(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	f.searchCalls++
	f.lastCriteria = criteria
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchFn != nil {
		return f.searchFn(f.selected, criteria)
	}
	return f.headerSearch(criteria), nil
}

// headerSearch matches single-header criteria against the selected
// mailbox, mimicking how a server evaluates HEADER searches. Subject
// matching is a case-insensitive substring match, like SEARCH SUBJECT.
func (f *fakeBackend) headerSearch(criteria *imap.SearchCriteria) []imap.UID {
	var out []imap.UID
	for _, raw := range f.mailboxes[f.selected] {
		m := model.ParseMessage(raw.body, raw.uid, f.selected, raw.flags)
		if messageMatches(m, criteria) {
			out = append(out, raw.uid)
		}
	}
	return out
}

func messageMatches(m *model.Message, criteria *imap.SearchCriteria) bool {
	for _, h := range criteria.Header {
		switch h.Key {
		case "Message-Id":
			if m.MessageID != h.Value {
				return false
			}
		case "In-Reply-To":
			if m.InReplyTo != h.Value {
				return false
			}
		case "References":
			found := false
			for _, ref := range m.References {
				if ref == h.Value {
					found = true
				}
			}
			if !found {
				return false
			}
		case "Subject":
			if !strings.Contains(strings.ToLower(m.Subject), strings.ToLower(h.Value)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (f *fakeBackend) fetchRaw(uids []imap.UID) ([]rawMessage, error) {
	f.fetchCalls++
	f.lastFetched = uids
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []rawMessage
	for _, raw := range f.mailboxes[f.selected] {
		for _, uid := range uids {
			if raw.uid == uid {
				out = append(out, raw)
			}
		}
	}
	return out, nil
}

func (f *fakeBackend) storeFlags(uids []imap.UID, op imap.StoreFlagsOp, flags []imap.Flag) error {
	f.stores = append(f.stores, storeCall{uids: uids, op: op, flags: flags})
	return f.storeErr
}

func (f *fakeBackend) move(uids []imap.UID, dest string) error {
	f.moves = append(f.moves, moveCall{uids: uids, dest: dest})
	return f.moveErr
}

func (f *fakeBackend) expunge() error {
	f.expungeCalls++
	return f.expungeErr
}

func (f *fakeBackend) appendMessage(mailbox string, raw []byte, flags []imap.Flag) (imap.UID, error) {
	f.appends = append(f.appends, appendCall{mailbox: mailbox, raw: raw, flags: flags})
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	return f.appendUID, nil
}

func (f *fakeBackend) logout() error {
	f.logoutCalls++
	return f.logoutErr
}

// fakeTokenProvider hands out tokens from a fixed queue.
type fakeTokenProvider struct {
	tokens []auth.Token
	err    error
	calls  int
}

func (p *fakeTokenProvider) Token(_ context.Context) (auth.Token, error) {
	p.calls++
	if p.err != nil {
		return auth.Token{}, p.err
	}
	tok := p.tokens[0]
	if len(p.tokens) > 1 {
		p.tokens = p.tokens[1:]
	}
	return tok, nil
}

// newTestClient wires a Client to the fake backend through a counting
// dialer and returns both the client and a pointer to the dial counter.
func newTestClient(t *testing.T, be *fakeBackend, opts Options) (*Client, *int) {
	t.Helper()

	if opts.Host == "" {
		opts.Host = "imap.example.test"
	}
	if opts.Port == 0 {
		opts.Port = 993
	}
	if opts.Username == "" {
		opts.Username = "user@example.test"
	}
	if opts.Password == "" && opts.TokenProvider == nil {
		opts.Password = "hunter2"
	}

	dials := 0
	c := New(opts)
	c.dial = func(*Options) (backend, error) {
		dials++
		return be, nil
	}
	return c, &dials
}

// crlf converts \n line endings to the \r\n a wire message carries.
func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}
