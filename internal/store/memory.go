package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/soyeahso/livedesk/internal/domain"
)

// Memory is a Store held entirely in process memory.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	messages      map[string][]domain.Message // conversationID → messages in insert order
	messageIDs    map[string]bool
	dedupKeys     map[string]bool
	tickets       []domain.Ticket
	agents        map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string][]domain.Message),
		messageIDs:    make(map[string]bool),
		dedupKeys:     make(map[string]bool),
		agents:        make(map[string]bool),
	}
}

func copyConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// CreateConversation implements Store.
func (m *Memory) CreateConversation(_ context.Context, c *domain.Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[c.ID]; ok {
		return fmt.Errorf("conversation %s: %w", c.ID, ErrDuplicate)
	}
	m.conversations[c.ID] = copyConversation(c)
	return nil
}

// GetConversation implements Store.
func (m *Memory) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return copyConversation(c), nil
}

// UpdateConversation implements Store.
func (m *Memory) UpdateConversation(_ context.Context, c *domain.Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.conversations[c.ID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", c.ID, ErrNotFound)
	}
	next := copyConversation(c)
	next.OrgID = prev.OrgID
	next.SourceURL = prev.SourceURL
	next.ClientIP = prev.ClientIP
	next.CreatedAt = prev.CreatedAt
	m.conversations[c.ID] = next
	return nil
}

// ListConversations implements Store.
func (m *Memory) ListConversations(_ context.Context, f ConversationFilter) ([]*domain.Conversation, error) {
	m.mu.RLock()
	var out []*domain.Conversation
	for _, c := range m.conversations {
		if f.OrgID != "" && c.OrgID != f.OrgID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, copyConversation(c))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PersistMessage implements Store.
func (m *Memory) PersistMessage(_ context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindText
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	if m.messageIDs[msg.ID] || (msg.DedupKey != "" && m.dedupKeys[msg.DedupKey]) {
		return fmt.Errorf("message %s: %w", msg.ID, ErrDuplicate)
	}
	m.messageIDs[msg.ID] = true
	if msg.DedupKey != "" {
		m.dedupKeys[msg.DedupKey] = true
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	if msg.CreatedAt.After(c.LastActivityAt) {
		c.LastActivityAt = msg.CreatedAt
	}
	return nil
}

// ListMessages implements Store.
func (m *Memory) ListMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	src := m.messages[conversationID]
	out := make([]domain.Message, len(src))
	copy(out, src)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// HasMessageKind implements Store.
func (m *Memory) HasMessageKind(_ context.Context, conversationID string, kind domain.Kind) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages[conversationID] {
		if msg.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

// MarkSeen implements Store.
func (m *Memory) MarkSeen(_ context.Context, conversationID string, reader domain.Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	msgs := m.messages[conversationID]
	for i := range msgs {
		if msgs[i].Role != reader && !msgs[i].Seen {
			msgs[i].Seen = true
			n++
		}
	}
	return n, nil
}

// CreateTicket implements Store.
func (m *Memory) CreateTicket(_ context.Context, t *domain.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tickets {
		if existing.ID == t.ID {
			return fmt.Errorf("ticket %s: %w", t.ID, ErrDuplicate)
		}
	}
	m.tickets = append(m.tickets, *t)
	return nil
}

// ListTickets implements Store.
func (m *Memory) ListTickets(_ context.Context, conversationID string) ([]domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Ticket
	for _, t := range m.tickets {
		if t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	return out, nil
}

// SetAgentOnline implements Store.
func (m *Memory) SetAgentOnline(_ context.Context, agentID, _ string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agentID] = online
	return nil
}

// ListOnlineAgents implements Store.
func (m *Memory) ListOnlineAgents(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, online := range m.agents {
		if online {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ResetAgents implements Store.
func (m *Memory) ResetAgents(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.agents {
		m.agents[id] = false
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
