package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/dispatch"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/escalation"
	"github.com/soyeahso/livedesk/internal/keylock"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/org"
	"github.com/soyeahso/livedesk/internal/presence"
	"github.com/soyeahso/livedesk/internal/responder"
	"github.com/soyeahso/livedesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-123"

type testGateway struct {
	srv    *Server
	ts     *httptest.Server
	engine *dispatch.Engine
	bridge *escalation.Bridge
	store  store.Store
}

func testServer(t *testing.T) *testGateway {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = testToken

	log := logging.New(nil, "silent")
	st := store.NewMemory()
	locks := keylock.New()
	orgs := org.NewDirectory([]config.OrganizationConfig{
		{ID: "acme", Name: "Acme"},
		{ID: "globex", Name: "Globex"},
		{ID: "initech", Name: "Initech", AllowedOrigins: []string{"https://initech.example"}},
	}, log)
	resp := &responder.MockClient{
		AnswerFunc: func(context.Context, responder.AnswerRequest) (*responder.Answer, error) {
			return &responder.Answer{Answer: "Happy to help."}, nil
		},
		SummarizeFunc: func(context.Context, responder.SummaryRequest) (string, error) {
			return "short chat", nil
		},
	}

	engine := dispatch.New(dispatch.Deps{
		Store:     st,
		Presence:  presence.New(st, log),
		Responder: resp,
		Orgs:      orgs,
		Locks:     locks,
	}, log)
	bridge := escalation.New(escalation.Deps{
		Store:     st,
		Responder: resp,
		Orgs:      orgs,
		Locks:     locks,
	}, log)

	srv := New(cfg, engine, bridge, orgs, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		engine.Wait()
		bridge.Wait()
	})
	return &testGateway{srv: srv, ts: ts, engine: engine, bridge: bridge, store: st}
}

// wsClient splits a connection's frames into responses and events.
type wsClient struct {
	conn      *websocket.Conn
	hello     HelloOK
	responses chan Frame
	events    chan Frame
	nextID    atomic.Int64
}

func dialRaw(t *testing.T, ts *httptest.Server, params ConnectParams) (*websocket.Conn, Frame) {
	t.Helper()
	return dialFrom(t, ts, "", params)
}

func dialFrom(t *testing.T, ts *httptest.Server, origin string, params ConnectParams) (*websocket.Conn, Frame) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	var header http.Header
	if origin != "" {
		header = http.Header{"Origin": {origin}}
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, FrameTypeEvent, challenge.Type)
	require.Equal(t, "connect.challenge", challenge.Event)

	params.MinProtocol, params.MaxProtocol = 1, 1
	req, err := newRequest("connect-1", "connect", params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	return conn, res
}

func dial(t *testing.T, ts *httptest.Server, params ConnectParams) *wsClient {
	t.Helper()
	conn, res := dialRaw(t, ts, params)
	require.NotNil(t, res.OK)
	require.True(t, *res.OK, "handshake rejected: %+v", res.Error)

	c := &wsClient{conn: conn, responses: make(chan Frame, 64), events: make(chan Frame, 256)}
	require.NoError(t, json.Unmarshal(res.Payload, &c.hello))
	go func() {
		defer close(c.events)
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == FrameTypeEvent {
				c.events <- f
			} else {
				c.responses <- f
			}
		}
	}()
	return c
}

func agent(t *testing.T, ts *httptest.Server, id string) *wsClient {
	t.Helper()
	return dial(t, ts, ConnectParams{
		Client: ClientInfo{ID: id, DisplayName: "Agent " + id, Version: "1.0.0", Platform: "web", Mode: ModeAgent},
		Auth:   &ConnectAuth{Token: testToken},
	})
}

func widget(t *testing.T, ts *httptest.Server, orgID string) *wsClient {
	t.Helper()
	return dial(t, ts, ConnectParams{
		Client: ClientInfo{ID: "tab", Version: "1.0.0", Platform: "web", Mode: ModeWidget},
		OrgID:  orgID,
	})
}

func (c *wsClient) call(t *testing.T, method string, params any) Frame {
	t.Helper()
	id := fmt.Sprintf("req-%d", c.nextID.Add(1))
	req, err := newRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteJSON(req))

	select {
	case f := <-c.responses:
		require.Equal(t, id, f.ID)
		return f
	case <-time.After(5 * time.Second):
		t.Fatalf("no response to %s", method)
		return Frame{}
	}
}

func (c *wsClient) ok(t *testing.T, method string, params any, out any) {
	t.Helper()
	f := c.call(t, method, params)
	require.NotNil(t, f.OK)
	require.True(t, *f.OK, "%s failed: %+v", method, f.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(f.Payload, out))
	}
}

func (c *wsClient) fails(t *testing.T, method string, params any) string {
	t.Helper()
	f := c.call(t, method, params)
	require.NotNil(t, f.OK)
	require.False(t, *f.OK)
	require.NotNil(t, f.Error)
	return f.Error.Code
}

// waitEvent returns the first event with the given name whose payload
// satisfies match.
func (c *wsClient) waitEvent(t *testing.T, name string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, open := <-c.events:
			require.True(t, open, "connection closed waiting for %s", name)
			if f.Event == name && (match == nil || match(f.Payload)) {
				return f.Payload
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
			return nil
		}
	}
}

func messageWith(body string, role domain.Role) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var ev domain.MessageEvent
		return json.Unmarshal(raw, &ev) == nil && ev.Body == body && ev.Role == role
	}
}

type startedConversation struct {
	Conversation domain.Conversation `json:"conversation"`
	State        domain.State        `json:"state"`
}

func startConversation(t *testing.T, w *wsClient) domain.Conversation {
	t.Helper()
	var out startedConversation
	w.ok(t, "conversation.start", map[string]string{"sourceUrl": "https://acme.test/pricing"}, &out)
	require.NotEmpty(t, out.Conversation.ID)
	return out.Conversation
}

func TestHealthEndpoint(t *testing.T) {
	g := testServer(t)

	resp, err := http.Get(g.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	g := testServer(t)

	resp, err := http.Get(g.ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandshakeAgent(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")

	assert.Equal(t, ProtocolVersion, a.hello.Protocol)
	assert.NotEmpty(t, a.hello.Server.ConnID)
	assert.Equal(t, ModeAgent, a.hello.Server.Mode)
	assert.Contains(t, a.hello.Features.Methods, "message.send")
	assert.Contains(t, a.hello.Features.Events, domain.EventPresenceSnapshot)
}


func TestHandshakeWidgetReceivesOrgInfo(t *testing.T) {
	g := testServer(t)

	w := widget(t, g.ts, "acme")
	require.NotNil(t, w.hello.Org)
	assert.Equal(t, "acme", w.hello.Org.ID)
	assert.Equal(t, "Acme", w.hello.Org.Name)
	assert.False(t, w.hello.Org.AgentsOnline)

	a := agent(t, g.ts, "A1")
	assert.Nil(t, a.hello.Org)
	a.ok(t, "agent.presence", map[string]bool{"online": true}, nil)

	w2 := widget(t, g.ts, "acme")
	require.NotNil(t, w2.hello.Org)
	assert.True(t, w2.hello.Org.AgentsOnline)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	select {
	case f := <-a.responses:
		require.NotNil(t, f.Error)
		assert.Equal(t, CodeProtocol, f.Error.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no error response to malformed frame")
	}

	a.ok(t, "health", nil, nil)
}
func TestHandshakeRejections(t *testing.T) {
	g := testServer(t)

	tests := []struct {
		name   string
		params ConnectParams
		reason string
	}{
		{"wrong token", ConnectParams{Client: ClientInfo{ID: "A1", Mode: ModeAgent}, Auth: &ConnectAuth{Token: "wrong"}}, "token_mismatch"},
		{"agent without id", ConnectParams{Client: ClientInfo{Mode: ModeAgent}, Auth: &ConnectAuth{Token: testToken}}, "agent id required"},
		{"widget unknown org", ConnectParams{Client: ClientInfo{Mode: ModeWidget}, OrgID: "nope"}, "unknown org"},
		{"widget without org", ConnectParams{Client: ClientInfo{Mode: ModeWidget}}, "orgId required"},
		{"unknown mode", ConnectParams{Client: ClientInfo{Mode: "app"}}, "unknown client mode: app"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res := dialRaw(t, g.ts, tt.params)
			require.NotNil(t, res.OK)
			assert.False(t, *res.OK)
			require.NotNil(t, res.Error)
			assert.Equal(t, "unauthorized", res.Error.Code)
			assert.Equal(t, tt.reason, res.Error.Message)
		})
	}
}

func TestHandshakeOrigins(t *testing.T) {
	g := testServer(t)
	wsURL := "ws" + strings.TrimPrefix(g.ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	widgetParams := func(orgID string) ConnectParams {
		return ConnectParams{Client: ClientInfo{ID: "V1", Mode: ModeWidget}, OrgID: orgID}
	}

	_, res := dialFrom(t, g.ts, "https://initech.example", widgetParams("initech"))
	require.NotNil(t, res.OK)
	assert.True(t, *res.OK)

	_, res = dialFrom(t, g.ts, "https://initech.example", widgetParams("acme"))
	require.NotNil(t, res.OK)
	assert.True(t, *res.OK)

	_, res = dialRaw(t, g.ts, widgetParams("initech"))
	require.NotNil(t, res.Error)
	assert.Equal(t, "origin not allowed for org", res.Error.Message)

	agentParams := ConnectParams{Client: ClientInfo{ID: "A1", Mode: ModeAgent}, Auth: &ConnectAuth{Token: testToken}}
	_, res = dialFrom(t, g.ts, "https://initech.example", agentParams)
	require.NotNil(t, res.Error)
	assert.Equal(t, "origin not allowed for agents", res.Error.Message)
}

func TestRPCHealthAndUnknownMethod(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")

	var health HealthResponse
	a.ok(t, "health", nil, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
	assert.Equal(t, 2, health.Orgs)

	assert.Equal(t, "method_not_found", a.fails(t, "chat.send", nil))
}

func TestRoleRestrictedMethods(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")
	w := widget(t, g.ts, "acme")

	assert.Equal(t, "forbidden", w.fails(t, "presence.list", nil))
	assert.Equal(t, "forbidden", w.fails(t, "agent.presence", map[string]bool{"online": true}))
	assert.Equal(t, "forbidden", a.fails(t, "conversation.start", nil))
}

func TestWidgetConversationAutoAnswered(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")
	w := widget(t, g.ts, "acme")

	conv := startConversation(t, w)
	assert.Equal(t, "acme", conv.OrgID)
	a.waitEvent(t, domain.EventConversationStarted, nil)

	var msg domain.Message
	w.ok(t, "message.send", map[string]string{"conversationId": conv.ID, "body": "Hi"}, &msg)
	assert.Equal(t, domain.RoleVisitor, msg.Role)

	w.waitEvent(t, domain.EventMessageReceive, messageWith("Hi", domain.RoleVisitor))
	w.waitEvent(t, domain.EventMessageReceive, messageWith("Happy to help.", domain.RoleResponder))
	a.waitEvent(t, domain.EventDashboardUpdate, nil)

	var history struct {
		Messages []domain.Message `json:"messages"`
	}
	w.ok(t, "history.fetch", map[string]any{"conversationId": conv.ID}, &history)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "Hi", history.Messages[0].Body)
	assert.Equal(t, "Happy to help.", history.Messages[1].Body)
}

func TestAgentReplyReachesWidget(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")
	a.ok(t, "agent.presence", map[string]any{"online": true}, nil)
	w := widget(t, g.ts, "acme")

	conv := startConversation(t, w)
	w.ok(t, "message.send", map[string]string{"conversationId": conv.ID, "body": "Hi"}, nil)
	w.waitEvent(t, domain.EventMessageReceive, func(raw json.RawMessage) bool {
		var ev domain.MessageEvent
		return json.Unmarshal(raw, &ev) == nil && ev.Kind == domain.KindHandoff
	})

	a.ok(t, "conversation.join", map[string]string{"conversationId": conv.ID}, nil)
	a.ok(t, "typing.start", map[string]string{"conversationId": conv.ID}, nil)
	w.waitEvent(t, domain.EventTypingStart, nil)

	a.ok(t, "message.send", map[string]string{"conversationId": conv.ID, "body": "Hello, I'm here."}, nil)
	w.waitEvent(t, domain.EventMessageReceive, messageWith("Hello, I'm here.", domain.RoleAgent))

	got, err := g.engine.Conversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "A1", got.Assignment)
}

func TestWidgetRoomIsolation(t *testing.T) {
	g := testServer(t)
	w1 := widget(t, g.ts, "acme")
	w2 := widget(t, g.ts, "acme")
	other := widget(t, g.ts, "globex")

	conv := startConversation(t, w1)

	assert.Equal(t, "forbidden", w2.fails(t, "message.send", map[string]string{"conversationId": conv.ID, "body": "x"}))
	assert.Equal(t, "forbidden", w2.fails(t, "history.fetch", map[string]string{"conversationId": conv.ID}))
	assert.Equal(t, "not_found", other.fails(t, "conversation.join", map[string]string{"conversationId": conv.ID}))
	assert.Equal(t, "invalid", w2.fails(t, "message.send", map[string]string{"body": "x"}))

	// Same org may resume the session.
	w2.ok(t, "conversation.join", map[string]string{"conversationId": conv.ID}, nil)
	w2.ok(t, "message.send", map[string]string{"conversationId": conv.ID, "body": "resumed"}, nil)
}

func TestPresenceReleasedOnDisconnect(t *testing.T) {
	g := testServer(t)
	a1 := agent(t, g.ts, "A1")
	a2 := agent(t, g.ts, "A2")

	a1.ok(t, "agent.presence", map[string]any{"online": true}, nil)
	a2.ok(t, "agent.presence", map[string]any{"online": true}, nil)

	var snap domain.PresenceSnapshot
	a2.ok(t, "presence.list", nil, &snap)
	require.Len(t, snap.Agents, 2)

	require.NoError(t, a1.conn.Close())

	a2.waitEvent(t, domain.EventPresenceSnapshot, func(raw json.RawMessage) bool {
		var s domain.PresenceSnapshot
		return json.Unmarshal(raw, &s) == nil && len(s.Agents) == 1 && s.Agents[0].AgentID == "A2"
	})
	require.Eventually(t, func() bool { return len(g.engine.Presence()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "A2", g.engine.Presence()[0].AgentID)
}

func TestTicketAndEndOverRPC(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")
	w := widget(t, g.ts, "acme")
	conv := startConversation(t, w)

	var ticket domain.Ticket
	w.ok(t, "ticket.create", map[string]any{
		"conversationId": conv.ID,
		"contact":        map[string]string{"name": "Jane", "email": "jane@example.com"},
		"query":          "Refund please",
	}, &ticket)
	assert.Equal(t, conv.ID, ticket.ConversationID)
	assert.Equal(t, "jane@example.com", ticket.Contact.Email)
	a.waitEvent(t, domain.EventNotification, nil)

	var ended startedConversation
	w.ok(t, "conversation.end", map[string]string{"conversationId": conv.ID}, &ended)
	assert.Equal(t, domain.StateEnded, ended.State)
	assert.Equal(t, "visitor", ended.Conversation.EndedBy)
	w.waitEvent(t, domain.EventConversationEnded, nil)

	assert.Equal(t, "conflict", w.fails(t, "conversation.end", map[string]string{"conversationId": conv.ID}))
	assert.Equal(t, "conflict", w.fails(t, "message.send", map[string]string{"conversationId": conv.ID, "body": "still there?"}))
}

func TestEndConversationHTTP(t *testing.T) {
	g := testServer(t)
	conv, err := g.engine.StartConversation(context.Background(), dispatch.StartRequest{OrgID: "acme"})
	require.NoError(t, err)

	post := func(token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, g.ts.URL+"/api/conversations/"+conv.ID+"/end", strings.NewReader(`{"endedBy":"crm"}`))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, post("").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post("wrong").StatusCode)

	resp := post(testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "crm", got.EndedBy)

	assert.Equal(t, http.StatusConflict, post(testToken).StatusCode)
}

func TestEndConversationHTTPNotFound(t *testing.T) {
	g := testServer(t)

	req, err := http.NewRequest(http.MethodPost, g.ts.URL+"/api/conversations/missing/end", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body["code"])
}

func TestServeStopsOnCancel(t *testing.T) {
	g := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return g.srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + g.srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+g.srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	req, err := newRequest("connect-1", "connect", ConnectParams{
		MinProtocol: 1, MaxProtocol: 1,
		Client:      ClientInfo{ID: "A1", Mode: ModeAgent},
		Auth:        &ConnectAuth{Token: testToken},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	require.NotNil(t, hello.OK)
	require.True(t, *hello.OK)

	cancel()

	var sawShutdown bool
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		if f.Type == FrameTypeEvent && f.Event == EventShutdown {
			sawShutdown = true
		}
	}
	assert.True(t, sawShutdown)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
