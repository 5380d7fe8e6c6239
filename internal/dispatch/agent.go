package dispatch

import (
	"context"
	"sync"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/hooks"
)

// AgentMessage is a reply typed by a human agent.
type AgentMessage struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
	AgentName      string `json:"agentName,omitempty"`
	Body           string `json:"body"`
	Attachment     string `json:"attachment,omitempty"`
}

// HandleAgentMessage stores an agent reply. The first agent to reply to an
// unassigned conversation takes it. Visitors who are not connected get the
// reply by mail.
func (e *Engine) HandleAgentMessage(ctx context.Context, in AgentMessage) (*domain.Message, error) {
	if in.AgentID == "" {
		return nil, apperr.Invalid("agent id is required")
	}
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

	assigned := false
	if !conv.Assigned() {
		conv.Assign(in.AgentID)
		assigned = true
	}

	sender := in.AgentName
	if sender == "" {
		sender = in.AgentID
	}
	msg, err := e.persist(ctx, conv, domain.Message{
		Role:       domain.RoleAgent,
		Sender:     sender,
		Body:       clean(in.Body),
		Attachment: in.Attachment,
	})
	if err != nil {
		return nil, err
	}
	if err := e.save(ctx, conv); err != nil {
		return nil, err
	}
	unlock()

	if assigned {
		e.log.Info().Str("conversation", conv.ID).Str("agent", in.AgentID).Msg("conversation assigned on first reply")
	}
	e.publish(conv, domain.NewMessageEvent(msg))

	if !e.out.VisitorConnected(conv.ID) && e.mailer != nil && e.mailer.Configured(conv) {
		snapshot := *conv
		e.bg.run(func() {
			mctx := context.WithoutCancel(ctx)
			if err := e.mailer.SendChatEmail(mctx, &snapshot, msg); err != nil {
				e.log.Warn().Err(err).Str("conversation", snapshot.ID).Msg("offline mail failed")
			}
		})
	}
	return &msg, nil
}

// AssignConversation binds a conversation to an agent explicitly.
func (e *Engine) AssignConversation(ctx context.Context, conversationID, agentID string) (*domain.Conversation, error) {
	if agentID == "" {
		return nil, apperr.Invalid("agent id is required")
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
	if conv.Assignment == agentID {
		return conv, nil
	}
	conv.Assign(agentID)
	if err := e.save(ctx, conv); err != nil {
		return nil, err
	}
	unlock()

	e.log.Info().Str("conversation", conv.ID).Str("agent", agentID).Msg("conversation assigned")
	e.publish(conv)
	e.notifyAgents(domain.Notification{
		Type:           domain.NotifyAssigned,
		ConversationID: conv.ID,
		Text:           "Assigned to " + agentID,
	})
	return conv, nil
}

// SetAgentPresence marks an agent online or offline and broadcasts the new
// presence snapshot.
func (e *Engine) SetAgentPresence(ctx context.Context, agentID, name, connID string, online bool) error {
	if agentID == "" {
		return apperr.Invalid("agent id is required")
	}
	event := hooks.EventAgentOnline
	if online {
		e.presence.SetOnline(agentID, name, connID)
	} else {
		e.presence.SetOffline(agentID)
		event = hooks.EventAgentOffline
	}
	e.hooks.EmitAsync(ctx, event, map[string]any{"agentId": agentID, "name": name})
	e.broadcastPresence()
	return nil
}

// ReleaseConnection sets every agent owned by a closed connection offline.
func (e *Engine) ReleaseConnection(ctx context.Context, connID string) []string {
	ids := e.presence.ReleaseConnection(connID)
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		e.hooks.EmitAsync(ctx, hooks.EventAgentOffline, map[string]any{"agentId": id})
	}
	e.broadcastPresence()
	return ids
}

// Presence lists the online agents.
func (e *Engine) Presence() []domain.AgentPresence {
	return e.presence.List()
}

func (e *Engine) broadcastPresence() {
	snap := domain.PresenceSnapshot{Agents: e.presence.List()}
	if err := e.out.ToAgents(domain.EventPresenceSnapshot, snap); err != nil {
		e.log.Debug().Err(err).Msg("presence push failed")
	}
}

// background tracks fire-and-forget deliveries so shutdown and tests can
// wait for them.
type background struct {
	wg sync.WaitGroup
}

func (b *background) run(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *background) wait() { b.wg.Wait() }
