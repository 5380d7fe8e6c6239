package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/dispatch"
	"github.com/soyeahso/livedesk/internal/escalation"
	"github.com/soyeahso/livedesk/internal/hooks"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/org"
	"github.com/soyeahso/livedesk/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload       = 1 << 20
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Server is the livedesk HTTP + WebSocket gateway. It carries agent
// dashboards and visitor widgets, and is the engine's live transport.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	engine *dispatch.Engine
	bridge *escalation.Bridge
	orgs   *org.Directory
	hooks  *hooks.Manager

	mu          sync.Mutex
	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for gateway lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a gateway server and installs it as the live transport of
// the engine and the bridge.
func New(cfg config.Config, engine *dispatch.Engine, bridge *escalation.Bridge, orgs *org.Directory, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		engine:      engine,
		bridge:      bridge,
		orgs:        orgs,
		authLimiter: newAuthRateLimiter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkWebSocketOrigin(s.originAllowed),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	engine.SetOutbound(s)
	bridge.SetNotifier(s)
	return s
}

// originAllowed admits the gateway's own origins and any origin an org
// lists for its widget.
func (s *Server) originAllowed(origin string) bool {
	if isOriginAllowed(origin, s.cfg.Gateway.AllowedOrigins) {
		return true
	}
	for _, o := range s.orgs.List() {
		if isOriginAllowed(origin, o.AllowedOrigins) {
			return true
		}
	}
	return false
}

// ToConversation pushes an event to every client in a conversation room.
func (s *Server) ToConversation(conversationID, event string, payload any) error {
	s.clients.SendRoom(conversationID, event, payload, s.eventSeq.Add(1))
	return nil
}

// ToAgents pushes an event to every connected agent.
func (s *Server) ToAgents(event string, payload any) error {
	s.clients.SendAgents(event, payload, s.eventSeq.Add(1))
	return nil
}

// VisitorConnected reports whether a widget is watching the conversation.
func (s *Server) VisitorConnected(conversationID string) bool {
	return s.clients.HasWidget(conversationID)
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the list of registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the HTTP handler with routes and middleware installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.originAllowed)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the gateway on an existing listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()
	srv := s.httpServer
	s.mu.Unlock()

	go s.authLimiter.sweep(ctx)

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Int("orgs", s.orgs.Count()).
		Msg("gateway server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		if s.hooks != nil {
			s.hooks.Emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		n := s.clients.Broadcast(EventShutdown, map[string]any{"reason": "gateway stopping"}, s.eventSeq.Add(1))
		s.log.Debug().Int("clients", n).Msg("shutdown notice sent")
		s.clients.CloseAll()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")

	client, err := s.handshake(conn, r.Header.Get("Origin"))
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}
	client.RemoteIP = hostOf(r.RemoteAddr)

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
		if client.IsAgent() {
			if ids := s.engine.ReleaseConnection(context.WithoutCancel(r.Context()), client.ConnID); len(ids) > 0 {
				s.log.Info().Str("connId", client.ConnID).Strs("agents", ids).Msg("agents offline after disconnect")
			}
		}
	}()

	s.readLoop(r.Context(), client)
}

// handshake performs the WebSocket authentication handshake.
// Flow: server sends challenge, client sends connect, server validates and
// sends hello-ok.
func (s *Server) handshake(conn *websocket.Conn, origin string) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	frame, err := DecodeFrame(msg)
	if err != nil {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "malformed connect frame")
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}

	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "unsupported protocol version")
		return nil, fmt.Errorf("client protocol %d too old", params.MaxProtocol)
	}

	var authResult AuthResult
	switch params.Client.Mode {
	case ModeAgent:
		authResult = Authorize(s.auth, params.Auth)
		if authResult.OK && origin != "" && !isOriginAllowed(origin, s.cfg.Gateway.AllowedOrigins) {
			authResult = AuthResult{Reason: "origin not allowed for agents"}
		}
		if authResult.OK && params.Client.ID == "" {
			authResult = AuthResult{Reason: "agent id required"}
		}
		params.OrgID = ""
	case ModeWidget:
		authResult = AuthorizeWidget(s.orgs.Get, params.OrgID, origin)
	default:
		authResult = AuthResult{Reason: "unknown client mode: " + params.Client.Mode}
	}
	if !authResult.OK {
		sendErrorAndClose(conn, frame.ID, CodeUnauthorized, authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, params.OrgID, authResult, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
			Mode:    params.Client.Mode,
		},
		Features: Features{Methods: s.Methods(), Events: serverEvents},
		Policy:   ServerPolicy{MaxPayload: maxPayload, TickIntervalMs: 30000},
	}
	if o, ok := s.orgs.Get(params.OrgID); ok {
		hello.Org = &OrgInfo{
			ID:              o.ID,
			Name:            o.Name,
			CollectIdentity: o.CollectIdentity,
			AgentsOnline:    len(s.engine.Presence()) > 0,
		}
	}

	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("mode", params.Client.Mode).
		Str("org", params.OrgID).
		Str("authMethod", authResult.Method).
		Msg("client authenticated")

	return client, nil
}

// readLoop processes incoming frames from an authenticated client. Requests
// from one connection are handled in order.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if errors.Is(err, ErrMalformedFrame) {
			client.RespondError(frame.ID, ErrorShape{Code: CodeProtocol, Message: err.Error()})
			continue
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		s.dispatch(ctx, client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	handler(&RequestContext{
		Ctx:    ctx,
		Client: client,
		Frame:  frame,
		Server: s,
	})
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
