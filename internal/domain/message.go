package domain

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleResponder Role = "automated-responder"
	RoleAgent     Role = "agent"
)

// Kind distinguishes engine-generated messages from ordinary text.
type Kind string

const (
	KindText      Kind = "text"
	KindHandoff   Kind = "handoff"
	KindPrompt    Kind = "prompt"
	KindMailReply Kind = "mail-reply"
)

// Message is a single immutable entry in a conversation timeline.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Sender         string    `json:"sender,omitempty"` // display name, agent id, or mail address
	Body           string    `json:"body"`
	Kind           Kind      `json:"kind"`
	Attachment     string    `json:"attachment,omitempty"`
	DedupKey       string    `json:"-"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`
}
