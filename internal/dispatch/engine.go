// Package dispatch is the live-session engine. For every inbound message it
// decides whether the automated responder or a human agent answers, moves the
// conversation through its lifecycle, and merges mailbox replies into the
// same timeline.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/hooks"
	"github.com/soyeahso/livedesk/internal/keylock"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/org"
	"github.com/soyeahso/livedesk/internal/presence"
	"github.com/soyeahso/livedesk/internal/responder"
	"github.com/soyeahso/livedesk/internal/store"
)

// historyLimit caps the prior messages handed to the responder.
const historyLimit = 20

// Outbound pushes events to live clients.
type Outbound interface {
	ToConversation(conversationID, event string, payload any) error
	ToAgents(event string, payload any) error
	VisitorConnected(conversationID string) bool
}

// ChatMailer delivers agent messages to visitors who are not connected.
type ChatMailer interface {
	Configured(conv *domain.Conversation) bool
	SendChatEmail(ctx context.Context, conv *domain.Conversation, msg domain.Message) error
}

// Deps are the engine's collaborators. Locks must be shared with anything
// else that mutates conversations.
type Deps struct {
	Store     store.Store
	Presence  *presence.Registry
	Responder responder.Client
	Orgs      *org.Directory
	Mailer    ChatMailer
	Hooks     *hooks.Manager
	Locks     *keylock.Map
	Prompts   config.DispatchConfig
}

// Engine is the dispatch state machine.
type Engine struct {
	store     store.Store
	presence  *presence.Registry
	responder responder.Client
	orgs      *org.Directory
	mailer    ChatMailer
	hooks     *hooks.Manager
	locks     *keylock.Map
	prompts   config.DispatchConfig
	out       Outbound

	now   func() time.Time
	newID func() string
	bg    background
	log   *logging.Logger
}

// New creates an engine. Push is a no-op until SetOutbound is called.
func New(d Deps, log *logging.Logger) *Engine {
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.Responder == nil {
		d.Responder = responder.New(config.ResponderConfig{})
	}
	if d.Hooks == nil {
		d.Hooks = hooks.NewManager(log)
	}
	p := d.Prompts
	if p.HandoffNotice == "" {
		p.HandoffNotice = config.DefaultHandoffNotice
	}
	if p.NamePrompt == "" {
		p.NamePrompt = config.DefaultNamePrompt
	}
	if p.EmailPrompt == "" {
		p.EmailPrompt = config.DefaultEmailPrompt
	}
	if p.InvalidEmailPrompt == "" {
		p.InvalidEmailPrompt = config.DefaultInvalidEmailPrompt
	}
	return &Engine{
		store:     d.Store,
		presence:  d.Presence,
		responder: d.Responder,
		orgs:      d.Orgs,
		mailer:    d.Mailer,
		hooks:     d.Hooks,
		locks:     d.Locks,
		prompts:   p,
		out:       nopOutbound{},
		now:       time.Now,
		newID:     uuid.NewString,
		log:       log.Sub("dispatch"),
	}
}

// SetOutbound wires the live transport.
func (e *Engine) SetOutbound(o Outbound) {
	if o == nil {
		o = nopOutbound{}
	}
	e.out = o
}

// Wait blocks until background deliveries (offline mail) finish.
func (e *Engine) Wait() { e.bg.wait() }

// StateOf derives the dispatch state of a conversation.
func (e *Engine) StateOf(c *domain.Conversation) domain.State {
	switch {
	case c.Ended():
		return domain.StateEnded
	case c.Escalated:
		return domain.StateEscalated
	case c.IdentityStage != domain.StageNone:
		return domain.StateCollectingIdentity
	case !c.LastActivityAt.After(c.CreatedAt):
		return domain.StateNew
	case c.Assigned() || e.presence.Count() > 0:
		return domain.StateRoutedAgent
	default:
		return domain.StateRoutedAuto
	}
}

// Conversation returns a conversation by id.
func (e *Engine) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return e.load(ctx, id)
}

// ListConversations lists conversations, most recently active first.
func (e *Engine) ListConversations(ctx context.Context, f store.ConversationFilter) ([]*domain.Conversation, error) {
	convs, err := e.store.ListConversations(ctx, f)
	if err != nil {
		return nil, apperr.Internal("listing conversations", err)
	}
	return convs, nil
}

// History returns a conversation's messages oldest first.
func (e *Engine) History(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if _, err := e.load(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := e.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, apperr.Internal("listing messages", err)
	}
	return msgs, nil
}

// MarkSeen flags messages not authored by reader as seen.
func (e *Engine) MarkSeen(ctx context.Context, conversationID string, reader domain.Role) (int, error) {
	if _, err := e.load(ctx, conversationID); err != nil {
		return 0, err
	}
	n, err := e.store.MarkSeen(ctx, conversationID, reader)
	if err != nil {
		return 0, apperr.Internal("marking seen", err)
	}
	return n, nil
}

// Typing relays a typing indicator to the conversation.
func (e *Engine) Typing(ctx context.Context, conversationID, sender string, role domain.Role, started bool) error {
	conv, err := e.load(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Ended() {
		return nil
	}
	event := domain.EventTypingStop
	if started {
		event = domain.EventTypingStart
	}
	ev := domain.TypingEvent{ConversationID: conversationID, Sender: sender, Role: role}
	if err := e.out.ToConversation(conversationID, event, ev); err != nil {
		e.log.Debug().Err(err).Str("conversation", conversationID).Msg("typing relay failed")
	}
	return nil
}

func (e *Engine) load(ctx context.Context, id string) (*domain.Conversation, error) {
	if id == "" {
		return nil, apperr.Invalid("conversation id is required")
	}
	conv, err := e.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("conversation", id)
	}
	if err != nil {
		return nil, apperr.Internal("loading conversation", err)
	}
	return conv, nil
}

func (e *Engine) save(ctx context.Context, conv *domain.Conversation) error {
	if err := e.store.UpdateConversation(ctx, conv); err != nil {
		return apperr.Internal("updating conversation", err)
	}
	return nil
}

// persist stores m under conv with a creation time strictly after the
// conversation's last activity. The caller holds the conversation lock.
func (e *Engine) persist(ctx context.Context, conv *domain.Conversation, m domain.Message) (domain.Message, error) {
	m.ConversationID = conv.ID
	if m.ID == "" {
		m.ID = e.newID()
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}
	m.CreatedAt = conv.NextMessageTime(e.now())
	if err := e.store.PersistMessage(ctx, &m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return m, err
		}
		return m, apperr.Internal("persisting message", err)
	}
	conv.LastActivityAt = m.CreatedAt
	return m, nil
}

// publish pushes message events to the conversation and a dashboard update
// to agents. Failures are logged; persistence has already happened.
func (e *Engine) publish(conv *domain.Conversation, events ...domain.MessageEvent) {
	for _, ev := range events {
		if err := e.out.ToConversation(conv.ID, domain.EventMessageReceive, ev); err != nil {
			e.log.Debug().Err(err).Str("conversation", conv.ID).Msg("push failed")
		}
	}
	update := domain.DashboardUpdate{Conversation: conv, State: e.StateOf(conv)}
	if n := len(events); n > 0 {
		last := events[n-1]
		update.LastMessage = &last
	}
	if err := e.out.ToAgents(domain.EventDashboardUpdate, update); err != nil {
		e.log.Debug().Err(err).Msg("dashboard push failed")
	}
}

func (e *Engine) notifyAgents(n domain.Notification) {
	if err := e.out.ToAgents(domain.EventNotification, n); err != nil {
		e.log.Debug().Err(err).Msg("notification push failed")
	}
}

func (e *Engine) orgName(orgID string) string {
	if o, ok := e.orgs.Get(orgID); ok && o.Name != "" {
		return o.Name
	}
	return orgID
}

func visitorName(c *domain.Conversation) string {
	if c.Name != "" {
		return c.Name
	}
	return "Visitor"
}

func clean(s string) string {
	return strings.TrimSpace(s)
}

type nopOutbound struct{}

func (nopOutbound) ToConversation(string, string, any) error { return nil }
func (nopOutbound) ToAgents(string, any) error               { return nil }
func (nopOutbound) VisitorConnected(string) bool             { return false }
