package model

import (
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"
)

// Address is a single mail address with an optional display name.
type Address struct {
	Name    string
	Address string
}

// String formats the address in the usual "Name <addr>" form.
func (a Address) String() string {
	if a.Name != "" {
		return a.Name + " <" + a.Address + ">"
	}
	return a.Address
}

// Attachment holds metadata about a message attachment. The attachment
// bytes themselves are not retained; Size is computed while draining the
// part during parsing.
type Attachment struct {
	Filename  string
	MediaType string
	Size      int64
	ContentID string
}

// Message is an immutable view of one fetched message. It always carries
// the mailbox and UID needed to re-fetch it. Flags reflect the state at
// fetch time; they are refreshed by re-fetching, never mutated in place.
type Message struct {
	UID     imap.UID
	Mailbox string

	// Threading headers, normalized to bare message ids without angle
	// brackets.
	MessageID  string
	InReplyTo  string
	References []string

	Subject string
	From    Address
	To      []Address
	Cc      []Address
	Date    time.Time
	Flags   []imap.Flag

	Text        string
	HTML        string
	Attachments []Attachment
}

// HasFlag reports whether the message carried the given flag when fetched.
func (m *Message) HasFlag(flag imap.Flag) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// BestBody returns the plain-text body if present, otherwise the HTML body
// with tags stripped.
func (m *Message) BestBody() string {
	if m.Text != "" {
		return m.Text
	}
	if m.HTML != "" {
		return html.UnescapeString(htmlTagRe.ReplaceAllString(m.HTML, ""))
	}
	return ""
}

// Snippet returns up to n runes of the best body with whitespace collapsed.
func (m *Message) Snippet(n int) string {
	s := strings.Join(strings.Fields(m.BestBody()), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// ParseMessage decodes a raw RFC 5322 message into a Message. Header
// encodings are decoded, multipart bodies are split into the first
// text/plain and text/html parts encountered, and attachment metadata is
// extracted without retaining attachment content. A message that cannot be
// parsed as MIME degrades to a plain-text body of the raw bytes.
func ParseMessage(raw []byte, uid imap.UID, mailbox string, flags []imap.Flag) *Message {
	msg := &Message{
		UID:     uid,
		Mailbox: mailbox,
		Flags:   flags,
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		msg.Text = string(raw)
		return msg
	}
	defer mr.Close()

	h := mr.Header
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		msg.References = refs
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = Address{Name: from[0].Name, Address: from[0].Address}
	}
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := ph.ContentType()
			switch {
			case strings.HasPrefix(mediaType, "text/plain"):
				if msg.Text == "" {
					body, err := io.ReadAll(part.Body)
					if err == nil {
						msg.Text = string(body)
					}
				}
			case strings.HasPrefix(mediaType, "text/html"):
				if msg.HTML == "" {
					body, err := io.ReadAll(part.Body)
					if err == nil {
						msg.HTML = string(body)
					}
				}
			default:
				// Inline non-text parts (embedded images etc.) still
				// surface as attachment metadata.
				msg.Attachments = append(msg.Attachments, attachmentMeta(
					"", mediaType, contentID(ph.Get("Content-Id")), part.Body,
				))
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			mediaType, _, _ := ph.ContentType()
			msg.Attachments = append(msg.Attachments, attachmentMeta(
				filename, mediaType, contentID(ph.Get("Content-Id")), part.Body,
			))
		}
	}

	return msg
}

func addressList(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	var out []Address
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Address: a.Address})
	}
	return out
}

// attachmentMeta drains the part body to measure its size without keeping
// the bytes.
func attachmentMeta(filename, mediaType, contentID string, body io.Reader) Attachment {
	size, _ := io.Copy(io.Discard, body)
	if filename == "" && mediaType != "" {
		// Same naming fallback the server-side tooling uses for unnamed
		// parts.
		if i := strings.Index(mediaType, "/"); i >= 0 {
			filename = "attachment." + mediaType[i+1:]
		}
	}
	return Attachment{
		Filename:  filename,
		MediaType: mediaType,
		Size:      size,
		ContentID: contentID,
	}
}

func contentID(v string) string {
	return strings.Trim(strings.TrimSpace(v), "<>")
}
