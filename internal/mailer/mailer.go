// Package mailer sends conversation mail: agent messages to visitors who have
// left the widget, and full transcripts when a conversation ends.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"golang.org/x/time/rate"

	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/org"
)

var (
	// ErrNotConfigured is returned when the organization has no SMTP settings.
	ErrNotConfigured = errors.New("mailer: outbound mail not configured")
	// ErrNoRecipient is returned when the conversation has no visitor email.
	ErrNoRecipient = errors.New("mailer: no visitor email on file")
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

const defaultPerMinute = 30

// Mailer composes and sends conversation mail through each organization's
// SMTP server, rate limited per organization.
type Mailer struct {
	orgs *org.Directory
	send SendFunc
	now  func() time.Time
	log  *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a mailer that sends with smtp.SendMail.
func New(orgs *org.Directory, log *logging.Logger) *Mailer {
	return &Mailer{
		orgs:     orgs,
		send:     smtp.SendMail,
		now:      time.Now,
		log:      log.Sub("mailer"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Configured reports whether mail can be sent for the conversation.
func (m *Mailer) Configured(conv *domain.Conversation) bool {
	return conv.Email != "" && m.orgs.CanMail(conv.OrgID)
}

// SendChatEmail mails a single agent message to the visitor.
func (m *Mailer) SendChatEmail(ctx context.Context, conv *domain.Conversation, msg domain.Message) error {
	o, err := m.resolve(conv)
	if err != nil {
		return err
	}
	sender := msg.Sender
	if sender == "" {
		sender = orgName(o)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "%s wrote:\n\n%s\n\n", sender, msg.Body)
	body.WriteString("Reply to this email to continue the conversation.\n")

	subject := fmt.Sprintf("New message from %s %s", orgName(o), SubjectMarker(conv.ID))
	return m.deliver(ctx, o, conv, subject, body.String())
}

// SendTranscriptEmail mails the whole conversation to the visitor.
func (m *Mailer) SendTranscriptEmail(ctx context.Context, conv *domain.Conversation, msgs []domain.Message) error {
	o, err := m.resolve(conv)
	if err != nil {
		return err
	}

	var body strings.Builder
	name := conv.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&body, "Hi %s,\n\nHere is a copy of your conversation with %s.\n\n", name, orgName(o))
	for _, msg := range msgs {
		if msg.Kind == domain.KindPrompt {
			continue
		}
		fmt.Fprintf(&body, "[%s] %s:\n%s\n\n", msg.CreatedAt.UTC().Format("2006-01-02 15:04"), speaker(o, conv, msg), msg.Body)
	}
	body.WriteString("Reply to this email if you need anything else.\n")

	subject := fmt.Sprintf("Your conversation with %s %s", orgName(o), SubjectMarker(conv.ID))
	return m.deliver(ctx, o, conv, subject, body.String())
}

func (m *Mailer) resolve(conv *domain.Conversation) (config.OrganizationConfig, error) {
	if conv.Email == "" {
		return config.OrganizationConfig{}, ErrNoRecipient
	}
	o, ok := m.orgs.Get(conv.OrgID)
	if !ok || o.Mail.SMTP == nil || o.Mail.FromAddress == "" {
		return config.OrganizationConfig{}, fmt.Errorf("org %s: %w", conv.OrgID, ErrNotConfigured)
	}
	return o, nil
}

func (m *Mailer) limiter(o config.OrganizationConfig) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[o.ID]
	if !ok {
		per := o.Mail.SMTP.PerMinute
		if per <= 0 {
			per = defaultPerMinute
		}
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(per)), per)
		m.limiters[o.ID] = l
	}
	return l
}

func (m *Mailer) deliver(ctx context.Context, o config.OrganizationConfig, conv *domain.Conversation, subject, body string) error {
	if err := m.limiter(o).Wait(ctx); err != nil {
		return fmt.Errorf("mail rate limit: %w", err)
	}

	raw, err := compose(o, conv, subject, body, m.now())
	if err != nil {
		return err
	}

	smtpCfg := o.Mail.SMTP
	addr := smtpCfg.Host + ":" + strconv.Itoa(smtpCfg.Port)
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}

	m.log.Debug().Str("org", o.ID).Str("conversation", conv.ID).Str("addr", addr).Msg("sending mail")
	if err := m.send(addr, auth, o.Mail.FromAddress, []string{conv.Email}, raw); err != nil {
		return fmt.Errorf("sending mail for conversation %s: %w", conv.ID, err)
	}
	m.log.Info().Str("org", o.ID).Str("conversation", conv.ID).Msg("mail sent")
	return nil
}

func compose(o config.OrganizationConfig, conv *domain.Conversation, subject, body string, now time.Time) ([]byte, error) {
	from := []*gomail.Address{{Name: o.Mail.FromName, Address: o.Mail.FromAddress}}

	var h gomail.Header
	h.SetAddressList("From", from)
	h.SetAddressList("To", []*gomail.Address{{Name: conv.Name, Address: conv.Email}})
	h.SetAddressList("Reply-To", from)
	h.SetSubject(subject)
	h.SetDate(now)
	h.Set("Message-Id", NewMessageID(conv.ID, o.Mail.FromAddress))
	h.Set(ConversationHeader, conv.ID)
	h.Set("Mime-Version", "1.0")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.WriteString(w, strings.ReplaceAll(body, "\n", "\r\n")); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	return buf.Bytes(), nil
}

func orgName(o config.OrganizationConfig) string {
	if o.Name != "" {
		return o.Name
	}
	return o.ID
}

func speaker(o config.OrganizationConfig, conv *domain.Conversation, msg domain.Message) string {
	switch msg.Role {
	case domain.RoleVisitor:
		if conv.Name != "" {
			return conv.Name
		}
		return "You"
	case domain.RoleResponder:
		return orgName(o) + " assistant"
	default:
		if msg.Sender != "" {
			return msg.Sender
		}
		return orgName(o)
	}
}
