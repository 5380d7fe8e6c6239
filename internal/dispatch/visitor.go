package dispatch

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/hooks"
	"github.com/soyeahso/livedesk/internal/responder"
)

const maxNameLen = 100

// StartRequest opens a conversation for a widget session.
type StartRequest struct {
	OrgID     string `json:"orgId"`
	SourceURL string `json:"sourceUrl,omitempty"`
	ClientIP  string `json:"clientIp,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// VisitorMessage is a message typed into the widget.
type VisitorMessage struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	Attachment     string `json:"attachment,omitempty"`
}

// Identity carries visitor-supplied identity fields. Empty fields are left
// unchanged.
type Identity struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// StartConversation creates an active, unassigned conversation.
func (e *Engine) StartConversation(ctx context.Context, req StartRequest) (*domain.Conversation, error) {
	if req.OrgID == "" {
		return nil, apperr.Invalid("org id is required")
	}
	if _, ok := e.orgs.Get(req.OrgID); !ok {
		return nil, apperr.NotFound("organization", req.OrgID)
	}

	conv := domain.NewConversation(e.newID(), req.OrgID, e.now())
	conv.SourceURL = req.SourceURL
	conv.ClientIP = req.ClientIP
	conv.Name = truncate(clean(req.Name), maxNameLen)
	if req.Email != "" {
		addr, err := parseEmail(req.Email)
		if err != nil {
			return nil, apperr.Invalid("invalid email %q", req.Email)
		}
		conv.Email = addr
	}

	if err := e.store.CreateConversation(ctx, conv); err != nil {
		return nil, apperr.Internal("creating conversation", err)
	}

	e.log.Info().Str("conversation", conv.ID).Str("org", conv.OrgID).Msg("conversation started")
	if err := e.out.ToAgents(domain.EventConversationStarted, conv); err != nil {
		e.log.Debug().Err(err).Msg("push failed")
	}
	e.hooks.EmitAsync(ctx, hooks.EventConversationStarted, map[string]any{
		"conversationId": conv.ID,
		"orgId":          conv.OrgID,
		"sourceUrl":      conv.SourceURL,
	})
	return conv, nil
}

// HandleVisitorMessage stores a visitor message and routes it. Identity
// collection may hold the message back until name and email are known; once
// routed it either triggers the one-time hand-off notice (agents present) or
// an automated answer (no agents present).
func (e *Engine) HandleVisitorMessage(ctx context.Context, in VisitorMessage) (*domain.Message, error) {
	if clean(in.Body) == "" && in.Attachment == "" {
		return nil, apperr.Invalid("message body is required")
	}

	unlock := e.locks.Lock(in.ConversationID)
	defer unlock()

	conv, err := e.load(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Ended() {
		return nil, apperr.Conflict("conversation %s has ended", conv.ID)
	}

	msg, err := e.persist(ctx, conv, domain.Message{
		Role:       domain.RoleVisitor,
		Sender:     visitorName(conv),
		Body:       clean(in.Body),
		Attachment: in.Attachment,
	})
	if err != nil {
		return nil, err
	}
	events := []domain.MessageEvent{domain.NewMessageEvent(msg)}

	body, ready, err := e.collectIdentity(ctx, conv, msg.Body, &events)
	if err != nil {
		return nil, err
	}

	var ask *responder.AnswerRequest
	if ready {
		if ask, err = e.route(ctx, conv, body, &events); err != nil {
			return nil, err
		}
	}
	if err := e.save(ctx, conv); err != nil {
		return nil, err
	}
	unlock()

	e.publish(conv, events...)
	e.hooks.EmitAsync(ctx, hooks.EventMessageReceived, map[string]any{
		"conversationId": conv.ID,
		"orgId":          conv.OrgID,
		"role":           string(msg.Role),
		"body":           msg.Body,
	})

	if ask != nil {
		e.answer(ctx, *ask)
	}
	return &msg, nil
}

// UpdateIdentity sets identity fields directly. Completing the identity
// while it is being collected releases the buffered message.
func (e *Engine) UpdateIdentity(ctx context.Context, conversationID string, id Identity) (*domain.Conversation, error) {
	var email string
	if id.Email != "" {
		addr, err := parseEmail(id.Email)
		if err != nil {
			return nil, apperr.Invalid("invalid email %q", id.Email)
		}
		email = addr
	}

	unlock := e.locks.Lock(conversationID)
	defer unlock()

	conv, err := e.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Ended() {
		return nil, apperr.Conflict("conversation %s has ended", conv.ID)
	}

	if name := truncate(clean(id.Name), maxNameLen); name != "" {
		conv.Name = name
	}
	if email != "" {
		conv.Email = email
	}

	var (
		events []domain.MessageEvent
		ask    *responder.AnswerRequest
	)
	if conv.IdentityStage != domain.StageNone {
		if conv.HasIdentity() {
			pending := conv.PendingMessage
			conv.IdentityStage = domain.StageNone
			conv.PendingMessage = ""
			if pending != "" {
				if ask, err = e.route(ctx, conv, pending, &events); err != nil {
					return nil, err
				}
			}
		} else if conv.Name != "" && conv.IdentityStage == domain.StageName {
			if err := e.prompt(ctx, conv, domain.StageEmail, e.prompts.EmailPrompt, &events); err != nil {
				return nil, err
			}
		}
	}

	if err := e.save(ctx, conv); err != nil {
		return nil, err
	}
	unlock()

	e.publish(conv, events...)
	if ask != nil {
		e.answer(ctx, *ask)
	}
	return conv, nil
}

// collectIdentity runs the name/email exchange. It returns the body to route
// and whether routing should happen now.
func (e *Engine) collectIdentity(ctx context.Context, conv *domain.Conversation, body string, events *[]domain.MessageEvent) (string, bool, error) {
	o, _ := e.orgs.Get(conv.OrgID)
	if !o.CollectIdentity {
		conv.IdentityStage = domain.StageNone
		return body, true, nil
	}
	if conv.IdentityStage == domain.StageNone && conv.HasIdentity() {
		return body, true, nil
	}

	switch conv.IdentityStage {
	case domain.StageNone:
		conv.PendingMessage = body
	case domain.StageName:
		name := truncate(body, maxNameLen)
		if name == "" {
			return "", false, e.prompt(ctx, conv, domain.StageName, e.prompts.NamePrompt, events)
		}
		conv.Name = name
	case domain.StageEmail:
		addr, err := parseEmail(body)
		if err != nil {
			return "", false, e.prompt(ctx, conv, domain.StageEmail, e.prompts.InvalidEmailPrompt, events)
		}
		conv.Email = addr
	}

	switch {
	case conv.Name == "":
		return "", false, e.prompt(ctx, conv, domain.StageName, e.prompts.NamePrompt, events)
	case conv.Email == "":
		return "", false, e.prompt(ctx, conv, domain.StageEmail, e.prompts.EmailPrompt, events)
	}

	pending := conv.PendingMessage
	conv.IdentityStage = domain.StageNone
	conv.PendingMessage = ""
	e.log.Debug().Str("conversation", conv.ID).Msg("identity collected")
	return pending, pending != "", nil
}

func (e *Engine) prompt(ctx context.Context, conv *domain.Conversation, stage domain.IdentityStage, text string, events *[]domain.MessageEvent) error {
	conv.IdentityStage = stage
	m, err := e.persist(ctx, conv, domain.Message{
		Role:   domain.RoleResponder,
		Sender: e.orgName(conv.OrgID),
		Body:   text,
		Kind:   domain.KindPrompt,
	})
	if err != nil {
		return err
	}
	*events = append(*events, domain.NewMessageEvent(m))
	return nil
}

// route applies the presence gate. With agents present it emits the hand-off
// notice once per conversation; otherwise it returns the responder request
// to run once the lock is released.
func (e *Engine) route(ctx context.Context, conv *domain.Conversation, body string, events *[]domain.MessageEvent) (*responder.AnswerRequest, error) {
	if e.presence.Count() > 0 {
		sent, err := e.store.HasMessageKind(ctx, conv.ID, domain.KindHandoff)
		if err != nil {
			return nil, apperr.Internal("checking hand-off", err)
		}
		if !sent {
			m, err := e.persist(ctx, conv, domain.Message{
				Role:   domain.RoleResponder,
				Sender: e.orgName(conv.OrgID),
				Body:   e.prompts.HandoffNotice,
				Kind:   domain.KindHandoff,
			})
			if err != nil {
				return nil, err
			}
			*events = append(*events, domain.NewMessageEvent(m))
			e.log.Info().Str("conversation", conv.ID).Msg("hand-off notice sent")
		}
		return nil, nil
	}

	if body == "" {
		return nil, nil
	}
	o, _ := e.orgs.Get(conv.OrgID)
	req := &responder.AnswerRequest{
		Message:        body,
		OrgID:          conv.OrgID,
		AIOrgID:        o.AIOrgID,
		ConversationID: conv.ID,
		FAQs:           o.FAQs,
	}
	history, err := e.store.ListMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		e.log.Warn().Err(err).Str("conversation", conv.ID).Msg("loading history failed, answering without it")
	}
	req.History = turns(history, body)
	return req, nil
}

// answer calls the responder outside the lock and applies its result unless
// the conversation ended meanwhile.
func (e *Engine) answer(ctx context.Context, req responder.AnswerRequest) {
	ans, err := e.responder.GenerateAnswer(ctx, req)
	if err != nil {
		if errors.Is(err, responder.ErrNotConfigured) {
			e.log.Debug().Str("conversation", req.ConversationID).Msg("no responder configured")
		} else {
			e.log.Warn().Err(err).Str("conversation", req.ConversationID).Msg("responder call failed")
		}
		return
	}
	if ans == nil || (clean(ans.Answer) == "" && !ans.TicketSignal) {
		return
	}

	unlock := e.locks.Lock(req.ConversationID)
	defer unlock()

	conv, err := e.load(ctx, req.ConversationID)
	if err != nil {
		e.log.Warn().Err(err).Str("conversation", req.ConversationID).Msg("dropping answer")
		return
	}
	if conv.Ended() {
		e.log.Debug().Str("conversation", conv.ID).Msg("conversation ended, discarding answer")
		return
	}

	escalatedNow := ans.TicketSignal && !conv.Escalated
	if ans.TicketSignal {
		conv.Escalated = true
	}

	ev := domain.MessageEvent{
		ConversationID: conv.ID,
		Role:           domain.RoleResponder,
		Sender:         e.orgName(conv.OrgID),
		Kind:           domain.KindText,
		CreatedAt:      e.now(),
	}
	if text := clean(ans.Answer); text != "" {
		m, err := e.persist(ctx, conv, domain.Message{
			Role:   domain.RoleResponder,
			Sender: e.orgName(conv.OrgID),
			Body:   text,
		})
		if err != nil {
			e.log.Error().Err(err).Str("conversation", conv.ID).Msg("persisting answer failed")
			return
		}
		ev = domain.NewMessageEvent(m)
	}
	ev.TicketSignal = ans.TicketSignal
	if !conv.Escalated && clean(ans.Question) != "" {
		ev.QuickReplies = []string{clean(ans.Question)}
	}

	if err := e.save(ctx, conv); err != nil {
		e.log.Error().Err(err).Str("conversation", conv.ID).Msg("saving conversation failed")
		return
	}
	unlock()

	e.publish(conv, ev)
	if escalatedNow {
		e.log.Info().Str("conversation", conv.ID).Msg("responder requested escalation")
		e.notifyAgents(domain.Notification{
			Type:           domain.NotifyEscalated,
			ConversationID: conv.ID,
			Text:           visitorName(conv) + " needs a follow-up ticket",
		})
	}
}

// turns converts stored history into responder context, dropping engine
// prompts and the message being answered.
func turns(history []domain.Message, current string) []responder.Turn {
	skip := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleVisitor && history[i].Body == current {
			skip = i
			break
		}
	}
	out := make([]responder.Turn, 0, len(history))
	for i, m := range history {
		if i == skip || m.Kind == domain.KindPrompt || m.Kind == domain.KindHandoff || m.Body == "" {
			continue
		}
		role := "user"
		if m.Role != domain.RoleVisitor {
			role = "assistant"
		}
		out = append(out, responder.Turn{Role: role, Content: m.Body})
	}
	return out
}

func parseEmail(s string) (string, error) {
	addr, err := mail.ParseAddress(clean(s))
	if err != nil {
		return "", err
	}
	if !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return "", errors.New("email domain has no dot")
	}
	return strings.ToLower(addr.Address), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
