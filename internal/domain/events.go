package domain

import "time"

// Events pushed to live clients.
const (
	EventMessageReceive      = "message.receive"
	EventTypingStart         = "typing.start"
	EventTypingStop          = "typing.stop"
	EventPresenceSnapshot    = "presence.snapshot"
	EventConversationStarted = "conversation.started"
	EventConversationEnded   = "conversation.ended"
	EventDashboardUpdate     = "dashboard.update"
	EventNotification        = "notification"
)

// MessageEvent is the payload of message.receive.
type MessageEvent struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	Sender         string    `json:"sender,omitempty"`
	Role           Role      `json:"role"`
	Body           string    `json:"body"`
	Kind           Kind      `json:"kind"`
	Attachment     string    `json:"attachment,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	TicketSignal   bool      `json:"ticketSignal,omitempty"`
	QuickReplies   []string  `json:"quickReplies,omitempty"`
}

// NewMessageEvent builds the live payload for a stored message.
func NewMessageEvent(m Message) MessageEvent {
	return MessageEvent{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Sender:         m.Sender,
		Role:           m.Role,
		Body:           m.Body,
		Kind:           m.Kind,
		Attachment:     m.Attachment,
		CreatedAt:      m.CreatedAt,
	}
}

// TypingEvent is the payload of typing.start and typing.stop.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender,omitempty"`
	Role           Role   `json:"role"`
}

// PresenceSnapshot is the payload of presence.snapshot.
type PresenceSnapshot struct {
	Agents []AgentPresence `json:"agents"`
}

// DashboardUpdate tells agents that a conversation changed.
type DashboardUpdate struct {
	Conversation *Conversation `json:"conversation"`
	State        State         `json:"state"`
	LastMessage  *MessageEvent `json:"lastMessage,omitempty"`
}

// Notification is a short agent-facing alert.
type Notification struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text"`
}

// Notification types.
const (
	NotifyEscalated = "escalated"
	NotifyMailReply = "mail-reply"
	NotifyTicket    = "ticket"
	NotifyAssigned  = "assigned"
	NotifyEnded     = "ended"
)

// EndedEvent is the payload of conversation.ended.
type EndedEvent struct {
	ConversationID string    `json:"conversationId"`
	EndedBy        string    `json:"endedBy"`
	EndedAt        time.Time `json:"endedAt"`
}
