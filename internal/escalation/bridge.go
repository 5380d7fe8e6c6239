// Package escalation ends conversations and turns them into tickets. Ending
// triggers a best-effort summary and transcript mail; tickets are independent
// records that survive whatever happens to the conversation afterwards.
package escalation

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/hooks"
	"github.com/soyeahso/livedesk/internal/keylock"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/org"
	"github.com/soyeahso/livedesk/internal/responder"
	"github.com/soyeahso/livedesk/internal/store"
)

// TranscriptMailer sends the full conversation to the visitor.
type TranscriptMailer interface {
	Configured(conv *domain.Conversation) bool
	SendTranscriptEmail(ctx context.Context, conv *domain.Conversation, msgs []domain.Message) error
}

// Notifier pushes events to live clients.
type Notifier interface {
	ToConversation(conversationID, event string, payload any) error
	ToAgents(event string, payload any) error
}

// Deps are the bridge's collaborators. Locks must be the map the dispatch
// engine uses.
type Deps struct {
	Store     store.Store
	Responder responder.Client
	Mailer    TranscriptMailer
	Orgs      *org.Directory
	Hooks     *hooks.Manager
	Locks     *keylock.Map
}

// TicketRequest asks for a ticket on a conversation. Contact fields left
// empty are filled from the conversation's identity.
type TicketRequest struct {
	ConversationID string              `json:"conversationId"`
	Contact        domain.Contact      `json:"contact"`
	Query          string              `json:"query"`
	Priority       string              `json:"priority,omitempty"`
	Source         domain.TicketSource `json:"source,omitempty"`
}

// Bridge implements conversation end and ticket creation.
type Bridge struct {
	store     store.Store
	responder responder.Client
	mailer    TranscriptMailer
	orgs      *org.Directory
	hooks     *hooks.Manager
	locks     *keylock.Map
	out       Notifier

	now   func() time.Time
	newID func() string
	wg    sync.WaitGroup
	log   *logging.Logger
}

// New creates a bridge.
func New(d Deps, log *logging.Logger) *Bridge {
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.Hooks == nil {
		d.Hooks = hooks.NewManager(log)
	}
	return &Bridge{
		store:     d.Store,
		responder: d.Responder,
		mailer:    d.Mailer,
		orgs:      d.Orgs,
		hooks:     d.Hooks,
		locks:     d.Locks,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       log.Sub("escalation"),
	}
}

// SetNotifier wires the live transport.
func (b *Bridge) SetNotifier(n Notifier) { b.out = n }

// Wait blocks until pending summaries and transcripts finish.
func (b *Bridge) Wait() { b.wg.Wait() }

// EndConversation ends an active conversation. Ending an ended conversation
// is a conflict and changes nothing.
func (b *Bridge) EndConversation(ctx context.Context, conversationID, endedBy string) (*domain.Conversation, error) {
	if conversationID == "" {
		return nil, apperr.Invalid("conversation id is required")
	}
	endedBy = strings.TrimSpace(endedBy)
	if endedBy == "" {
		return nil, apperr.Invalid("endedBy is required")
	}

	unlock := b.locks.Lock(conversationID)
	defer unlock()

	conv, err := b.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Ended() {
		return nil, apperr.Conflict("conversation %s already ended", conv.ID)
	}

	conv.End(endedBy, b.now().UTC())
	if err := b.store.UpdateConversation(ctx, conv); err != nil {
		return nil, apperr.Internal("ending conversation", err)
	}
	msgs, err := b.store.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		b.log.Warn().Err(err).Str("conversation", conv.ID).Msg("loading transcript failed")
	}
	unlock()

	b.log.Info().Str("conversation", conv.ID).Str("endedBy", endedBy).Msg("conversation ended")

	b.push(conv.ID, domain.EventConversationEnded, domain.EndedEvent{
		ConversationID: conv.ID,
		EndedBy:        endedBy,
		EndedAt:        *conv.EndedAt,
	})
	b.pushAgents(domain.EventDashboardUpdate, domain.DashboardUpdate{Conversation: conv, State: domain.StateEnded})

	bg := context.WithoutCancel(ctx)
	snapshot := *conv
	if len(msgs) > 0 {
		b.goSummarize(bg, snapshot, msgs)
	}
	if b.mailer != nil && b.mailer.Configured(&snapshot) && len(msgs) > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.mailer.SendTranscriptEmail(bg, &snapshot, msgs); err != nil {
				b.log.Warn().Err(err).Str("conversation", snapshot.ID).Msg("transcript delivery failed")
			}
		}()
	}

	b.hooks.EmitAsync(bg, hooks.EventConversationEnded, map[string]any{
		"conversationId": conv.ID,
		"orgId":          conv.OrgID,
		"endedBy":        endedBy,
		"endedAt":        conv.EndedAt.Format(time.RFC3339),
		"category":       string(conv.Category),
		"assignment":     conv.Assignment,
		"email":          conv.Email,
	})
	return conv, nil
}

func (b *Bridge) goSummarize(ctx context.Context, conv domain.Conversation, msgs []domain.Message) {
	if b.responder == nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		req := responder.SummaryRequest{ConversationID: conv.ID, OrgID: conv.OrgID}
		if o, ok := b.orgs.Get(conv.OrgID); ok {
			req.AIOrgID = o.AIOrgID
		}
		for _, m := range msgs {
			if m.Kind == domain.KindPrompt {
				continue
			}
			req.Transcript = append(req.Transcript, responder.Turn{Role: string(m.Role), Content: m.Body})
		}

		summary, err := b.responder.Summarize(ctx, req)
		if err != nil {
			if !errors.Is(err, responder.ErrNotConfigured) {
				b.log.Warn().Err(err).Str("conversation", conv.ID).Msg("summary failed")
			}
			return
		}
		if summary = strings.TrimSpace(summary); summary == "" {
			return
		}

		unlock := b.locks.Lock(conv.ID)
		defer unlock()
		cur, err := b.load(ctx, conv.ID)
		if err != nil {
			b.log.Warn().Err(err).Str("conversation", conv.ID).Msg("storing summary failed")
			return
		}
		cur.Summary = summary
		if err := b.store.UpdateConversation(ctx, cur); err != nil {
			b.log.Warn().Err(err).Str("conversation", conv.ID).Msg("storing summary failed")
			return
		}
		b.log.Debug().Str("conversation", conv.ID).Msg("summary stored")
	}()
}

// CreateTicket records a ticket for a conversation. Unassigned, active
// conversations move to the ticket category.
func (b *Bridge) CreateTicket(ctx context.Context, req TicketRequest) (*domain.Ticket, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperr.Invalid("query is required")
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	switch req.Source {
	case "", domain.SourceContactForm, domain.SourceResponderSignal:
	default:
		return nil, apperr.Invalid("unknown ticket source %q", req.Source)
	}

	unlock := b.locks.Lock(req.ConversationID)
	defer unlock()

	conv, err := b.load(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	contact := req.Contact
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Email = strings.TrimSpace(contact.Email)
	contact.Phone = strings.TrimSpace(contact.Phone)
	if contact.Name == "" {
		contact.Name = conv.Name
	}
	if contact.Email == "" {
		contact.Email = conv.Email
	}
	if contact.Email == "" && contact.Phone == "" {
		return nil, apperr.Invalid("contact email or phone is required")
	}
	if contact.Email != "" {
		addr, err := mail.ParseAddress(contact.Email)
		if err != nil {
			return nil, apperr.Invalid("invalid contact email %q", contact.Email)
		}
		contact.Email = addr.Address
	}

	source := req.Source
	if source == "" {
		source = domain.SourceContactForm
		if conv.Escalated {
			source = domain.SourceResponderSignal
		}
	}

	t := &domain.Ticket{
		ID:             b.newID(),
		ConversationID: conv.ID,
		OrgID:          conv.OrgID,
		Contact:        contact,
		Query:          query,
		Priority:       priority,
		Source:         source,
		CreatedAt:      b.now().UTC(),
	}
	if err := b.store.CreateTicket(ctx, t); err != nil {
		return nil, apperr.Internal("creating ticket", err)
	}

	if !conv.Ended() && !conv.Assigned() && conv.Category != domain.CategoryTicket {
		conv.Category = domain.CategoryTicket
		if err := b.store.UpdateConversation(ctx, conv); err != nil {
			b.log.Warn().Err(err).Str("conversation", conv.ID).Msg("ticket category update failed")
		}
	}
	unlock()

	b.log.Info().Str("conversation", conv.ID).Str("ticket", t.ID).Str("source", string(source)).Msg("ticket created")
	b.pushAgents(domain.EventNotification, domain.Notification{
		Type:           domain.NotifyTicket,
		ConversationID: conv.ID,
		Text:           "New " + string(priority) + " ticket: " + query,
	})
	b.pushAgents(domain.EventDashboardUpdate, domain.DashboardUpdate{Conversation: conv, State: stateOf(conv)})
	b.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventTicketCreated, map[string]any{
		"ticketId":       t.ID,
		"conversationId": t.ConversationID,
		"orgId":          t.OrgID,
		"priority":       string(t.Priority),
		"source":         string(t.Source),
		"query":          t.Query,
		"contact":        t.Contact,
	})
	return t, nil
}

// Tickets lists the tickets recorded for a conversation.
func (b *Bridge) Tickets(ctx context.Context, conversationID string) ([]domain.Ticket, error) {
	if _, err := b.load(ctx, conversationID); err != nil {
		return nil, err
	}
	ts, err := b.store.ListTickets(ctx, conversationID)
	if err != nil {
		return nil, apperr.Internal("listing tickets", err)
	}
	return ts, nil
}

func (b *Bridge) load(ctx context.Context, id string) (*domain.Conversation, error) {
	if id == "" {
		return nil, apperr.Invalid("conversation id is required")
	}
	conv, err := b.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("conversation", id)
	}
	if err != nil {
		return nil, apperr.Internal("loading conversation", err)
	}
	return conv, nil
}

func (b *Bridge) push(conversationID, event string, payload any) {
	if b.out == nil {
		return
	}
	if err := b.out.ToConversation(conversationID, event, payload); err != nil {
		b.log.Debug().Err(err).Str("conversation", conversationID).Msg("push failed")
	}
}

func (b *Bridge) pushAgents(event string, payload any) {
	if b.out == nil {
		return
	}
	if err := b.out.ToAgents(event, payload); err != nil {
		b.log.Debug().Err(err).Msg("push failed")
	}
}

func stateOf(c *domain.Conversation) domain.State {
	switch {
	case c.Ended():
		return domain.StateEnded
	case c.Escalated:
		return domain.StateEscalated
	case c.Assigned():
		return domain.StateRoutedAgent
	default:
		return domain.StateRoutedAuto
	}
}
