package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/soyeahso/livedesk/internal/config"
)

// RawMessage is one fetched message.
type RawMessage struct {
	UID  uint32
	Body []byte
}

// Conn is an authenticated, read-only mailbox session.
type Conn interface {
	// FetchUnseenSince returns unseen messages received since the given time
	// without changing their flags.
	FetchUnseenSince(ctx context.Context, since time.Time) ([]RawMessage, error)
	Close() error
}

// Dialer opens mailbox sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg config.IMAPConfig, timeout time.Duration) (Conn, error)
}

// IMAPDialer dials real servers with go-imap.
type IMAPDialer struct{}

// Dial connects, logs in, and examines the configured mailbox.
func (IMAPDialer) Dial(ctx context.Context, cfg config.IMAPConfig, timeout time.Duration) (Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	nd := &net.Dialer{Timeout: timeout}

	var (
		c   *client.Client
		err error
	)
	if cfg.UseTLS() {
		c, err = client.DialWithDialerTLS(nd, addr, &tls.Config{ServerName: cfg.Host})
	} else {
		c, err = client.DialWithDialer(nd, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.Timeout = timeout

	// go-imap has no context support; a cancelled poll drops the connection.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		stop()
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		stop()
		_ = c.Logout()
		return nil, fmt.Errorf("failed to examine %s: %w", mailbox, err)
	}

	return &imapConn{c: c, stop: stop}, nil
}

type imapConn struct {
	c    *client.Client
	stop func() bool
}

func (ic *imapConn) FetchUnseenSince(_ context.Context, since time.Time) ([]RawMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := ic.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.c.UidFetch(seqset, items, messages)
	}()

	var out []RawMessage
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		body, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		out = append(out, RawMessage{UID: msg.Uid, Body: body})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	return out, nil
}

func (ic *imapConn) Close() error {
	ic.stop()
	return ic.c.Logout()
}
