// Package domain holds the core types shared by the dispatch engine, the
// escalation bridge, the mailbox poller, and the stores.
package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle status of a conversation.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Category classifies how a conversation is being handled.
type Category string

const (
	CategoryAIHandled Category = "ai-handled"
	CategoryAssigned  Category = "assigned"
	CategoryCompleted Category = "completed"
	CategoryTicket    Category = "ticket"
)

// IdentityStage tracks which identity field the engine is waiting for.
type IdentityStage string

const (
	StageNone  IdentityStage = ""
	StageName  IdentityStage = "name"
	StageEmail IdentityStage = "email"
)

// State is the dispatch state of a conversation. It is derived, not stored.
type State string

const (
	StateNew                State = "NEW"
	StateCollectingIdentity State = "COLLECTING_IDENTITY"
	StateRoutedAuto         State = "ROUTED_AUTO"
	StateRoutedAgent        State = "ROUTED_AGENT"
	StateEscalated          State = "ESCALATED"
	StateEnded              State = "ENDED"
)

// Conversation is a single visitor support session (a "thread").
type Conversation struct {
	ID        string `json:"id"`
	OrgID     string `json:"orgId"`
	SourceURL string `json:"sourceUrl,omitempty"`
	ClientIP  string `json:"clientIp,omitempty"`

	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`

	Status     Status   `json:"status"`
	Assignment string   `json:"assignment,omitempty"` // agent id; empty when unassigned
	Category   Category `json:"category"`

	IdentityStage  IdentityStage `json:"identityStage,omitempty"`
	PendingMessage string        `json:"-"`
	Escalated      bool          `json:"escalated,omitempty"`
	Summary        string        `json:"summary,omitempty"`

	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	EndedBy        string     `json:"endedBy,omitempty"`
}

// NewConversation returns an active, unassigned conversation.
func NewConversation(id, orgID string, now time.Time) *Conversation {
	return &Conversation{
		ID:             id,
		OrgID:          orgID,
		Status:         StatusActive,
		Category:       CategoryAIHandled,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Ended reports whether the conversation has been closed.
func (c *Conversation) Ended() bool { return c.Status == StatusEnded }

// Assigned reports whether an agent owns the conversation.
func (c *Conversation) Assigned() bool { return c.Assignment != "" }

// HasIdentity reports whether both identity fields are on file.
func (c *Conversation) HasIdentity() bool { return c.Name != "" && c.Email != "" }

// Assign binds the conversation to an agent.
func (c *Conversation) Assign(agentID string) {
	c.Assignment = agentID
	c.Category = CategoryAssigned
}

// End closes the conversation. Assigned conversations keep their category.
func (c *Conversation) End(by string, at time.Time) {
	c.Status = StatusEnded
	c.EndedBy = by
	c.EndedAt = &at
	c.IdentityStage = StageNone
	c.PendingMessage = ""
	if !c.Assigned() {
		c.Category = CategoryCompleted
	}
}

// NextMessageTime returns a timestamp strictly after the last activity so
// messages within a conversation never share or reverse creation times.
func (c *Conversation) NextMessageTime(now time.Time) time.Time {
	if !now.After(c.LastActivityAt) {
		return c.LastActivityAt.Add(time.Microsecond)
	}
	return now
}

// Validate checks the conversation invariants.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("conversation id is required")
	}
	if c.Status != StatusActive && c.Status != StatusEnded {
		return errors.New("invalid conversation status: " + string(c.Status))
	}
	if c.Ended() && (c.EndedAt == nil || c.EndedBy == "") {
		return errors.New("ended conversation requires endedAt and endedBy")
	}
	if c.Assigned() && c.Category != CategoryAssigned {
		return errors.New("assigned conversation must have category assigned")
	}
	return nil
}
