package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/livedesk/internal/domain"
)

// ProtocolVersion is the frame protocol spoken on /ws.
const ProtocolVersion = 1

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Client modes chosen in the connect request.
const (
	ModeAgent  = "agent"
	ModeWidget = "widget"
)

// Error codes that are not apperr codes.
const (
	CodeProtocol       = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeMethodNotFound = "method_not_found"
)

const (
	// EventConnectChallenge is the first frame on every connection.
	EventConnectChallenge = "connect.challenge"
	// EventShutdown is the last frame before the gateway closes connections.
	EventShutdown = "shutdown"
)

// serverEvents is advertised in HelloOK.
var serverEvents = []string{
	EventConnectChallenge,
	domain.EventMessageReceive,
	domain.EventTypingStart,
	domain.EventTypingStop,
	domain.EventPresenceSnapshot,
	domain.EventConversationStarted,
	domain.EventConversationEnded,
	domain.EventDashboardUpdate,
	domain.EventNotification,
	EventShutdown,
}

// Frame is the envelope for every message in both directions.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrMalformedFrame is returned by DecodeFrame for input that is not a
// usable frame. The connection survives it.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeFrame parses one inbound text message.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameTypeRequest:
		if f.ID == "" || f.Method == "" {
			return f, fmt.Errorf("%w: request needs id and method", ErrMalformedFrame)
		}
	case FrameTypeResponse, FrameTypeEvent:
	default:
		return f, fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// ConnectParams is the body of the "connect" request. Agents send the
// gateway token; widgets name the organization whose site embeds them.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	OrgID       string       `json:"orgId,omitempty"`
}

// ClientInfo identifies the connecting client. For agents ID is the agent id.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
}

// ConnectAuth carries agent credentials.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
	// Org is set for widget connections.
	Org *OrgInfo `json:"org,omitempty"`
}

// ServerInfo identifies the gateway and the new connection.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
	Mode    string `json:"mode"`
}

// Features lists the methods the client may call and the events it may see.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy communicates frame limits.
type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	TickIntervalMs int `json:"tickIntervalMs"`
}

// OrgInfo tells a widget how its organization handles chats.
type OrgInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	CollectIdentity bool   `json:"collectIdentity"`
	AgentsOnline    bool   `json:"agentsOnline"`
}

// newRequest builds a request frame, as a client would send it.
func newRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &shape}
}

// NewEvent builds an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
