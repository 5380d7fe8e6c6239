package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketPriority enumerates ticket urgency.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// ParsePriority accepts any casing; empty input yields medium.
func ParsePriority(s string) (TicketPriority, error) {
	switch p := TicketPriority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("unknown ticket priority %q", s)
	}
}

// TicketSource records what triggered ticket creation.
type TicketSource string

const (
	SourceContactForm     TicketSource = "contact-form"
	SourceResponderSignal TicketSource = "responder-signal"
)

// Contact is the visitor contact info attached to a ticket.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Ticket is a standalone actionable record created from a conversation.
type Ticket struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	OrgID          string         `json:"orgId"`
	Contact        Contact        `json:"contact"`
	Query          string         `json:"query"`
	Priority       TicketPriority `json:"priority"`
	Source         TicketSource   `json:"source"`
	CreatedAt      time.Time      `json:"createdAt"`
}
