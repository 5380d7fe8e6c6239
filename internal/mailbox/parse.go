package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/soyeahso/livedesk/internal/mailer"
)

// Parsed is the subset of an inbound message the poller needs.
type Parsed struct {
	MessageID  string
	From       string
	Subject    string
	InReplyTo  string
	References string
	ConvHeader string
	Date       time.Time
	Body       string // UTF-8, CRLF folded to LF
}

// Parse reads a raw RFC 5322 message. Transfer encodings and declared
// charsets are undone; parts in a charset nobody knows are kept with
// invalid bytes replaced.
func Parse(raw []byte) (*Parsed, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !lenient(err) {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	h := gomail.Header{Header: e.Header}

	p := &Parsed{
		MessageID:  strings.TrimSpace(h.Get("Message-Id")),
		InReplyTo:  h.Get("In-Reply-To"),
		References: h.Get("References"),
		ConvHeader: strings.TrimSpace(h.Get(mailer.ConversationHeader)),
	}

	if subject, err := h.Subject(); err == nil {
		p.Subject = subject
	} else {
		p.Subject = h.Get("Subject")
	}

	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		p.From = addrs[0].Address
	} else {
		p.From = strings.TrimSpace(h.Get("From"))
	}

	if d, err := h.Date(); err == nil {
		p.Date = d
	}

	var b body
	if err := b.collect(e); err != nil {
		return nil, err
	}
	p.Body = b.text()
	return p, nil
}

// lenient reports entity errors that still leave a readable body.
func lenient(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// body gathers the first text/plain and the first text/html rendition
// anywhere in a multipart tree.
type body struct {
	plain string
	html  string
}

func (b *body) collect(e *message.Entity) error {
	if mr := e.MultipartReader(); mr != nil {
		for b.plain == "" {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil && !lenient(err) {
				return fmt.Errorf("reading multipart: %w", err)
			}
			if err := b.collect(part); err != nil {
				return err
			}
		}
		return nil
	}

	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	switch {
	case mediaType == "text/html":
		if b.html != "" {
			return nil
		}
		text, err := htmlToText(e.Body)
		if err != nil {
			return fmt.Errorf("decoding html body: %w", err)
		}
		b.html = text
	case strings.HasPrefix(mediaType, "text/"):
		if b.plain != "" {
			return nil
		}
		data, err := io.ReadAll(e.Body)
		if err != nil {
			return fmt.Errorf("decoding body: %w", err)
		}
		b.plain = string(data)
	}
	return nil
}

func (b *body) text() string {
	text := b.plain
	if text == "" {
		text = b.html
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ToValidUTF8(text, "\uFFFD")
}
