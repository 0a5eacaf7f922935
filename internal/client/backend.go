package client

import (
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// backend is the narrow protocol surface the session layer drives. The
// production implementation wraps an imapclient connection; tests
// substitute fakes.
type backend interface {
	login(username, password string) error
	authenticate(saslClient sasl.Client) error
	selectMailbox(name string, readOnly bool) error
	list() ([]listEntry, error)
	status(mailbox string) (total, unseen uint32, err error)
	searchUIDs(criteria *imap.SearchCriteria) ([]imap.UID, error)
	fetchRaw(uids []imap.UID) ([]rawMessage, error)
	storeFlags(uids []imap.UID, op imap.StoreFlagsOp, flags []imap.Flag) error
	move(uids []imap.UID, dest string) error
	expunge() error
	appendMessage(mailbox string, raw []byte, flags []imap.Flag) (imap.UID, error)
	logout() error
}

// listEntry is one mailbox reported by LIST.
type listEntry struct {
	name  string
	attrs []imap.MailboxAttr
}

// rawMessage is the tagged wire variant of a fetched message. It is
// decoded exactly once into a model.Message and never re-inspected.
type rawMessage struct {
	uid   imap.UID
	flags []imap.Flag
	body  []byte
}

// dialBackend opens the transport for the configured server. It does not
// authenticate.
func dialBackend(opts *Options) (backend, error) {
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	var c *imapclient.Client
	var err error
	if opts.UseSSL {
		c, err = imapclient.DialTLS(addr, nil)
	} else {
		c, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	return &imapBackend{c: c}, nil
}

// imapBackend drives a live go-imap connection.
type imapBackend struct {
	c *imapclient.Client
}

func (b *imapBackend) login(username, password string) error {
	return b.c.Login(username, password).Wait()
}

func (b *imapBackend) authenticate(saslClient sasl.Client) error {
	return b.c.Authenticate(saslClient)
}

func (b *imapBackend) selectMailbox(name string, readOnly bool) error {
	opts := &imap.SelectOptions{ReadOnly: readOnly}
	if _, err := b.c.Select(name, opts).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", name, err)
	}
	return nil
}

func (b *imapBackend) list() ([]listEntry, error) {
	data, err := b.c.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	entries := make([]listEntry, 0, len(data))
	for _, d := range data {
		entries = append(entries, listEntry{name: d.Mailbox, attrs: d.Attrs})
	}
	return entries, nil
}

func (b *imapBackend) status(mailbox string) (uint32, uint32, error) {
	opts := &imap.StatusOptions{NumMessages: true, NumUnseen: true}
	data, err := b.c.Status(mailbox, opts).Wait()
	if err != nil {
		return 0, 0, fmt.Errorf("statusing %s: %w", mailbox, err)
	}

	var total, unseen uint32
	if data.NumMessages != nil {
		total = *data.NumMessages
	}
	if data.NumUnseen != nil {
		unseen = *data.NumUnseen
	}
	return total, unseen, nil
}

func (b *imapBackend) searchUIDs(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	data, err := b.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	return data.AllUIDs(), nil
}

func (b *imapBackend) fetchRaw(uids []imap.UID) ([]rawMessage, error) {
	// Peek so that reading never sets \Seen as a side effect.
	section := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	bufs, err := b.c.Fetch(imap.UIDSetNum(uids...), opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	msgs := make([]rawMessage, 0, len(bufs))
	for _, buf := range bufs {
		msgs = append(msgs, rawMessage{
			uid:   buf.UID,
			flags: buf.Flags,
			body:  buf.FindBodySection(section),
		})
	}
	return msgs, nil
}

func (b *imapBackend) storeFlags(uids []imap.UID, op imap.StoreFlagsOp, flags []imap.Flag) error {
	cmd := b.c.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil)
	return cmd.Close()
}

func (b *imapBackend) move(uids []imap.UID, dest string) error {
	if _, err := b.c.Move(imap.UIDSetNum(uids...), dest).Wait(); err != nil {
		return fmt.Errorf("moving to %s: %w", dest, err)
	}
	return nil
}

func (b *imapBackend) expunge() error {
	return b.c.Expunge().Close()
}

func (b *imapBackend) appendMessage(mailbox string, raw []byte, flags []imap.Flag) (imap.UID, error) {
	cmd := b.c.Append(mailbox, int64(len(raw)), &imap.AppendOptions{Flags: flags})
	if _, err := cmd.Write(raw); err != nil {
		return 0, fmt.Errorf("writing append literal: %w", err)
	}
	if err := cmd.Close(); err != nil {
		return 0, fmt.Errorf("closing append literal: %w", err)
	}

	data, err := cmd.Wait()
	if err != nil {
		return 0, fmt.Errorf("appending to %s: %w", mailbox, err)
	}
	if data == nil {
		return 0, nil
	}
	// Zero when the server does not support UIDPLUS.
	return data.UID, nil
}

func (b *imapBackend) logout() error {
	return b.c.Logout().Wait()
}
