package gateway

import (
	"net/http"
	"strings"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/dispatch"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/escalation"
	"github.com/soyeahso/livedesk/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/conversations/{id}/end", s.handleEndConversation)

	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)

	s.Handle("agent.presence", agentOnly(s.rpcAgentPresence))
	s.Handle("presence.list", agentOnly(s.rpcPresenceList))
	s.Handle("conversation.list", agentOnly(s.rpcConversationList))
	s.Handle("conversation.assign", agentOnly(s.rpcConversationAssign))

	s.Handle("conversation.start", widgetOnly(s.rpcConversationStart))
	s.Handle("identity.update", widgetOnly(s.rpcIdentityUpdate))

	s.Handle("conversation.join", s.rpcConversationJoin)
	s.Handle("conversation.leave", s.rpcConversationLeave)
	s.Handle("typing.start", s.rpcTyping(true))
	s.Handle("typing.stop", s.rpcTyping(false))
	s.Handle("message.send", s.rpcMessageSend)
	s.Handle("history.fetch", s.rpcHistoryFetch)
	s.Handle("ticket.create", s.rpcTicketCreate)
	s.Handle("conversation.end", s.rpcConversationEnd)
}

func agentOnly(h RequestHandler) RequestHandler {
	return func(rc *RequestContext) {
		if !rc.Client.IsAgent() {
			rc.RespondError(CodeForbidden, "agent connection required")
			return
		}
		h(rc)
	}
}

func widgetOnly(h RequestHandler) RequestHandler {
	return func(rc *RequestContext) {
		if rc.Client.IsAgent() {
			rc.RespondError(CodeForbidden, "widget connection required")
			return
		}
		h(rc)
	}
}

// conversationParams is shared by every per-conversation method.
type conversationParams struct {
	ConversationID string `json:"conversationId"`
}

// params decodes the request and reports a validation failure to the client.
func decodeParams[T any](rc *RequestContext) (T, bool) {
	var p T
	if err := rc.Params(&p); err != nil {
		rc.Fail(apperr.Invalid("invalid params: %v", err))
		return p, false
	}
	return p, true
}

// mayAccess reports whether the client may act on a conversation. Agents see
// every conversation; a widget only the rooms it started or joined.
func (s *Server) mayAccess(rc *RequestContext, conversationID string) bool {
	if conversationID == "" {
		rc.Fail(apperr.Invalid("conversationId is required"))
		return false
	}
	if rc.Client.IsAgent() || s.clients.InRoom(rc.Client.ConnID, conversationID) {
		return true
	}
	rc.RespondError(CodeForbidden, "join the conversation first")
	return false
}

// sender names the client in typing relays and ended-by fields.
func sender(c *Client) (string, domain.Role) {
	if c.IsAgent() {
		return c.Info.ID, domain.RoleAgent
	}
	return "visitor", domain.RoleVisitor
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
		Agents:  len(s.engine.Presence()),
		Orgs:    s.orgs.Count(),
	})
}

type presenceParams struct {
	Online bool   `json:"online"`
	Name   string `json:"name,omitempty"`
}

func (s *Server) rpcAgentPresence(rc *RequestContext) {
	p, ok := decodeParams[presenceParams](rc)
	if !ok {
		return
	}
	name := p.Name
	if name == "" {
		name = rc.Client.Info.DisplayName
	}
	if err := s.engine.SetAgentPresence(rc.Ctx, rc.Client.Info.ID, name, rc.Client.ConnID, p.Online); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(domain.PresenceSnapshot{Agents: s.engine.Presence()})
}

func (s *Server) rpcPresenceList(rc *RequestContext) {
	rc.Respond(domain.PresenceSnapshot{Agents: s.engine.Presence()})
}

type listParams struct {
	OrgID  string        `json:"orgId,omitempty"`
	Status domain.Status `json:"status,omitempty"`
	Limit  int           `json:"limit,omitempty"`
}

type conversationSummary struct {
	Conversation *domain.Conversation `json:"conversation"`
	State        domain.State         `json:"state"`
}

func (s *Server) rpcConversationList(rc *RequestContext) {
	p, ok := decodeParams[listParams](rc)
	if !ok {
		return
	}
	convs, err := s.engine.ListConversations(rc.Ctx, store.ConversationFilter{OrgID: p.OrgID, Status: p.Status, Limit: p.Limit})
	if err != nil {
		rc.Fail(err)
		return
	}
	out := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationSummary{Conversation: c, State: s.engine.StateOf(c)})
	}
	rc.Respond(map[string]any{"conversations": out})
}

type assignParams struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId,omitempty"`
}

func (s *Server) rpcConversationAssign(rc *RequestContext) {
	p, ok := decodeParams[assignParams](rc)
	if !ok {
		return
	}
	if p.AgentID == "" {
		p.AgentID = rc.Client.Info.ID
	}
	conv, err := s.engine.AssignConversation(rc.Ctx, p.ConversationID, p.AgentID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(conversationSummary{Conversation: conv, State: s.engine.StateOf(conv)})
}

type startParams struct {
	SourceURL string `json:"sourceUrl,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

func (s *Server) rpcConversationStart(rc *RequestContext) {
	p, ok := decodeParams[startParams](rc)
	if !ok {
		return
	}
	conv, err := s.engine.StartConversation(rc.Ctx, dispatch.StartRequest{
		OrgID:     rc.Client.OrgID,
		SourceURL: p.SourceURL,
		ClientIP:  rc.Client.RemoteIP,
		Name:      p.Name,
		Email:     p.Email,
	})
	if err != nil {
		rc.Fail(err)
		return
	}
	s.clients.Join(rc.Client.ConnID, conv.ID)
	rc.Respond(conversationSummary{Conversation: conv, State: s.engine.StateOf(conv)})
}

type identityParams struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
}

func (s *Server) rpcIdentityUpdate(rc *RequestContext) {
	p, ok := decodeParams[identityParams](rc)
	if !ok || !s.mayAccess(rc, p.ConversationID) {
		return
	}
	conv, err := s.engine.UpdateIdentity(rc.Ctx, p.ConversationID, dispatch.Identity{Name: p.Name, Email: p.Email})
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(conversationSummary{Conversation: conv, State: s.engine.StateOf(conv)})
}

type joinResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	State        domain.State         `json:"state"`
	Messages     []domain.Message     `json:"messages"`
}

func (s *Server) rpcConversationJoin(rc *RequestContext) {
	p, ok := decodeParams[conversationParams](rc)
	if !ok {
		return
	}
	if p.ConversationID == "" {
		rc.Fail(apperr.Invalid("conversationId is required"))
		return
	}
	conv, err := s.engine.Conversation(rc.Ctx, p.ConversationID)
	if err != nil {
		rc.Fail(err)
		return
	}
	// Widgets resuming a session may only see their own org's conversations.
	if !rc.Client.IsAgent() && conv.OrgID != rc.Client.OrgID {
		rc.Fail(apperr.NotFound("conversation", p.ConversationID))
		return
	}
	msgs, err := s.engine.History(rc.Ctx, conv.ID, defaultHistoryLimit)
	if err != nil {
		rc.Fail(err)
		return
	}
	s.clients.Join(rc.Client.ConnID, conv.ID)

	_, role := sender(rc.Client)
	if _, err := s.engine.MarkSeen(rc.Ctx, conv.ID, role); err != nil {
		s.log.Debug().Err(err).Str("conversation", conv.ID).Msg("mark seen failed")
	}
	rc.Respond(joinResponse{Conversation: conv, State: s.engine.StateOf(conv), Messages: msgs})
}

func (s *Server) rpcConversationLeave(rc *RequestContext) {
	p, ok := decodeParams[conversationParams](rc)
	if !ok {
		return
	}
	s.clients.Leave(rc.Client.ConnID, p.ConversationID)
	rc.Respond(map[string]bool{"ok": true})
}

func (s *Server) rpcTyping(started bool) RequestHandler {
	return func(rc *RequestContext) {
		p, ok := decodeParams[conversationParams](rc)
		if !ok || !s.mayAccess(rc, p.ConversationID) {
			return
		}
		name, role := sender(rc.Client)
		if err := s.engine.Typing(rc.Ctx, p.ConversationID, name, role, started); err != nil {
			rc.Fail(err)
			return
		}
		rc.Respond(map[string]bool{"ok": true})
	}
}

type sendParams struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	Attachment     string `json:"attachment,omitempty"`
}

func (s *Server) rpcMessageSend(rc *RequestContext) {
	p, ok := decodeParams[sendParams](rc)
	if !ok || !s.mayAccess(rc, p.ConversationID) {
		return
	}

	var (
		msg *domain.Message
		err error
	)
	if rc.Client.IsAgent() {
		msg, err = s.engine.HandleAgentMessage(rc.Ctx, dispatch.AgentMessage{
			ConversationID: p.ConversationID,
			AgentID:        rc.Client.Info.ID,
			AgentName:      rc.Client.Info.DisplayName,
			Body:           p.Body,
			Attachment:     p.Attachment,
		})
	} else {
		msg, err = s.engine.HandleVisitorMessage(rc.Ctx, dispatch.VisitorMessage{
			ConversationID: p.ConversationID,
			Body:           p.Body,
			Attachment:     p.Attachment,
		})
	}
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(msg)
}

type historyParams struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
}

func (s *Server) rpcHistoryFetch(rc *RequestContext) {
	p, ok := decodeParams[historyParams](rc)
	if !ok || !s.mayAccess(rc, p.ConversationID) {
		return
	}
	if p.Limit <= 0 {
		p.Limit = defaultHistoryLimit
	}
	p.Limit = min(p.Limit, maxHistoryLimit)
	msgs, err := s.engine.History(rc.Ctx, p.ConversationID, p.Limit)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"conversationId": p.ConversationID, "messages": msgs})
}

func (s *Server) rpcTicketCreate(rc *RequestContext) {
	p, ok := decodeParams[escalation.TicketRequest](rc)
	if !ok || !s.mayAccess(rc, p.ConversationID) {
		return
	}
	p.Query = strings.TrimSpace(p.Query)
	ticket, err := s.bridge.CreateTicket(rc.Ctx, p)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(ticket)
}

func (s *Server) rpcConversationEnd(rc *RequestContext) {
	p, ok := decodeParams[conversationParams](rc)
	if !ok || !s.mayAccess(rc, p.ConversationID) {
		return
	}
	endedBy, _ := sender(rc.Client)
	conv, err := s.bridge.EndConversation(rc.Ctx, p.ConversationID, endedBy)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(conversationSummary{Conversation: conv, State: s.engine.StateOf(conv)})
}
