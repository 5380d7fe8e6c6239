package store

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/livedesk/internal/domain"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an id or dedup key is already stored.
	ErrDuplicate = errors.New("store: duplicate")
)

// ConversationFilter narrows ListConversations. Zero values match everything.
type ConversationFilter struct {
	OrgID  string
	Status domain.Status
	Limit  int
}

// Store is the durable home of conversations, messages, tickets, and the
// agent online mirror.
type Store interface {
	CreateConversation(ctx context.Context, c *domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	UpdateConversation(ctx context.Context, c *domain.Conversation) error
	ListConversations(ctx context.Context, f ConversationFilter) ([]*domain.Conversation, error)

	// PersistMessage appends a message and bumps the conversation's last
	// activity. A repeated id or dedup key yields ErrDuplicate.
	PersistMessage(ctx context.Context, m *domain.Message) error
	// ListMessages returns messages oldest first. limit > 0 keeps the newest.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	HasMessageKind(ctx context.Context, conversationID string, kind domain.Kind) (bool, error)
	// MarkSeen flags every message not authored by reader as seen.
	MarkSeen(ctx context.Context, conversationID string, reader domain.Role) (int, error)

	CreateTicket(ctx context.Context, t *domain.Ticket) error
	ListTickets(ctx context.Context, conversationID string) ([]domain.Ticket, error)

	SetAgentOnline(ctx context.Context, agentID, name string, online bool) error
	ListOnlineAgents(ctx context.Context) ([]string, error)
	ResetAgents(ctx context.Context) error

	Close() error
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the stored text form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Memory)(nil)
)
