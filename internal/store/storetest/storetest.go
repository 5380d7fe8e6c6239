// Package storetest runs one behavioral suite against every store.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewConversation creates and stores an active conversation.
func NewConversation(t *testing.T, s store.Store, orgID string) *domain.Conversation {
	t.Helper()
	c := domain.NewConversation(uuid.NewString(), orgID, base)
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetConversation", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissingConversation", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("DuplicateConversation", func(t *testing.T) { testDuplicateConversation(t, newStore(t)) })
	t.Run("UpdateConversation", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("UpdateRejectsInvalid", func(t *testing.T) { testUpdateInvalid(t, newStore(t)) })
	t.Run("ListConversations", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("MessageOrdering", func(t *testing.T) { testMessageOrdering(t, newStore(t)) })
	t.Run("MessageLimitKeepsNewest", func(t *testing.T) { testMessageLimit(t, newStore(t)) })
	t.Run("MessageDedupKey", func(t *testing.T) { testDedupKey(t, newStore(t)) })
	t.Run("MessageUnknownConversation", func(t *testing.T) { testMessageUnknownConversation(t, newStore(t)) })
	t.Run("MessageBumpsActivity", func(t *testing.T) { testMessageBumpsActivity(t, newStore(t)) })
	t.Run("HasMessageKind", func(t *testing.T) { testHasMessageKind(t, newStore(t)) })
	t.Run("MarkSeen", func(t *testing.T) { testMarkSeen(t, newStore(t)) })
	t.Run("Tickets", func(t *testing.T) { testTickets(t, newStore(t)) })
	t.Run("AgentsMirror", func(t *testing.T) { testAgents(t, newStore(t)) })
	t.Run("ConcurrentDedupInserts", func(t *testing.T) { testConcurrentDedup(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := domain.NewConversation("conv-1", "acme", base)
	c.SourceURL = "https://acme.test/pricing"
	c.ClientIP = "203.0.113.9"
	require.NoError(t, s.CreateConversation(ctx, c))

	got, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.OrgID)
	assert.Equal(t, "https://acme.test/pricing", got.SourceURL)
	assert.Equal(t, "203.0.113.9", got.ClientIP)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, domain.CategoryAIHandled, got.Category)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Nil(t, got.EndedAt)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	c := domain.NewConversation("nope", "acme", base)
	assert.ErrorIs(t, s.UpdateConversation(context.Background(), c), store.ErrNotFound)
}

func testDuplicateConversation(t *testing.T, s store.Store) {
	c := NewConversation(t, s, "acme")
	err := s.CreateConversation(context.Background(), c)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")

	c.Name = "Jane"
	c.Email = "jane@x.com"
	c.IdentityStage = domain.StageEmail
	c.PendingMessage = "Hello"
	c.Escalated = true
	c.Summary = "Asked about refunds."
	c.Assign("A1")
	c.End("agent:A1", base.Add(time.Hour))
	require.NoError(t, s.UpdateConversation(ctx, c))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Name)
	assert.Equal(t, "jane@x.com", got.Email)
	assert.True(t, got.Escalated)
	assert.Equal(t, "Asked about refunds.", got.Summary)
	assert.Equal(t, "A1", got.Assignment)
	assert.Equal(t, domain.CategoryAssigned, got.Category)
	assert.Equal(t, domain.StatusEnded, got.Status)
	assert.Equal(t, "agent:A1", got.EndedBy)
	require.NotNil(t, got.EndedAt)
	assert.True(t, base.Add(time.Hour).Equal(*got.EndedAt))
	assert.Equal(t, domain.StageNone, got.IdentityStage)
	assert.Empty(t, got.PendingMessage)
}

func testUpdateInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")
	c.Status = domain.StatusEnded // no endedAt/endedBy
	assert.Error(t, s.UpdateConversation(ctx, c))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewConversation(t, s, "acme")
	b := NewConversation(t, s, "acme")
	other := NewConversation(t, s, "globex")

	b.End("visitor", base.Add(time.Minute))
	require.NoError(t, s.UpdateConversation(ctx, b))
	require.NoError(t, s.PersistMessage(ctx, &domain.Message{
		ConversationID: a.ID, Role: domain.RoleVisitor, Body: "hi", CreatedAt: base.Add(time.Hour),
	}))

	all, err := s.ListConversations(ctx, store.ConversationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a.ID, all[0].ID, "most recent activity first")

	acme, err := s.ListConversations(ctx, store.ConversationFilter{OrgID: "acme"})
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	active, err := s.ListConversations(ctx, store.ConversationFilter{Status: domain.StatusActive})
	require.NoError(t, err)
	ids := []string{}
	for _, c := range active {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, other.ID}, ids)

	limited, err := s.ListConversations(ctx, store.ConversationFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testMessageOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")

	bodies := []string{"first", "second", "third", "fourth"}
	for i, body := range bodies {
		require.NoError(t, s.PersistMessage(ctx, &domain.Message{
			ConversationID: c.ID,
			Role:           domain.RoleVisitor,
			Body:           body,
			CreatedAt:      base.Add(time.Duration(i+1) * time.Microsecond),
		}))
	}

	msgs, err := s.ListMessages(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, bodies[i], m.Body)
		assert.Equal(t, domain.KindText, m.Kind)
		assert.NotEmpty(t, m.ID)
		if i > 0 {
			assert.True(t, m.CreatedAt.After(msgs[i-1].CreatedAt))
		}
	}
}

func testMessageLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")
	for i := 0; i < 5; i++ {
		require.NoError(t, s.PersistMessage(ctx, &domain.Message{
			ConversationID: c.ID,
			Role:           domain.RoleVisitor,
			Body:           fmt.Sprintf("m%d", i),
			CreatedAt:      base.Add(time.Duration(i+1) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].Body)
	assert.Equal(t, "m4", msgs[1].Body)
}

func testDedupKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")

	reply := func() *domain.Message {
		return &domain.Message{
			ConversationID: c.ID,
			Role:           domain.RoleVisitor,
			Sender:         "jane@x.com",
			Body:           "Thanks, resolved",
			Kind:           domain.KindMailReply,
			DedupKey:       "<abc@mail.x.com>",
			CreatedAt:      base.Add(time.Second),
		}
	}
	require.NoError(t, s.PersistMessage(ctx, reply()))
	err := s.PersistMessage(ctx, reply())
	assert.ErrorIs(t, err, store.ErrDuplicate)

	msgs, err := s.ListMessages(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "<abc@mail.x.com>", msgs[0].DedupKey)

	// Messages without a dedup key never collide.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.PersistMessage(ctx, &domain.Message{
			ConversationID: c.ID, Role: domain.RoleAgent, Body: "ok", CreatedAt: base.Add(time.Minute),
		}))
	}
}

func testMessageUnknownConversation(t *testing.T, s store.Store) {
	err := s.PersistMessage(context.Background(), &domain.Message{
		ConversationID: "missing", Role: domain.RoleVisitor, Body: "hi", CreatedAt: base,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMessageBumpsActivity(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")
	at := base.Add(10 * time.Minute)
	require.NoError(t, s.PersistMessage(ctx, &domain.Message{
		ConversationID: c.ID, Role: domain.RoleVisitor, Body: "hi", CreatedAt: at,
	}))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.LastActivityAt))
}

func testHasMessageKind(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")

	has, err := s.HasMessageKind(ctx, c.ID, domain.KindHandoff)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.PersistMessage(ctx, &domain.Message{
		ConversationID: c.ID, Role: domain.RoleAgent, Body: "An agent joined", Kind: domain.KindHandoff, CreatedAt: base.Add(time.Second),
	}))
	has, err = s.HasMessageKind(ctx, c.ID, domain.KindHandoff)
	require.NoError(t, err)
	assert.True(t, has)
}

func testMarkSeen(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")
	for i, role := range []domain.Role{domain.RoleVisitor, domain.RoleAgent, domain.RoleResponder} {
		require.NoError(t, s.PersistMessage(ctx, &domain.Message{
			ConversationID: c.ID, Role: role, Body: "x", CreatedAt: base.Add(time.Duration(i+1) * time.Second),
		}))
	}

	n, err := s.MarkSeen(ctx, c.ID, domain.RoleVisitor)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs, err := s.ListMessages(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.False(t, msgs[0].Seen)
	assert.True(t, msgs[1].Seen)
	assert.True(t, msgs[2].Seen)

	n, err = s.MarkSeen(ctx, c.ID, domain.RoleVisitor)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testTickets(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")

	tk := &domain.Ticket{
		ConversationID: c.ID,
		OrgID:          "acme",
		Contact:        domain.Contact{Name: "Jane", Email: "jane@x.com", Phone: "+1 555 0100"},
		Query:          "Refund for order 42",
		Priority:       domain.PriorityHigh,
		Source:         domain.SourceContactForm,
		CreatedAt:      base.Add(time.Minute),
	}
	require.NoError(t, s.CreateTicket(ctx, tk))
	assert.NotEmpty(t, tk.ID)

	second := *tk
	second.ID = ""
	second.Source = domain.SourceResponderSignal
	second.CreatedAt = base.Add(2 * time.Minute)
	require.NoError(t, s.CreateTicket(ctx, &second))

	dup := *tk
	assert.ErrorIs(t, s.CreateTicket(ctx, &dup), store.ErrDuplicate)

	list, err := s.ListTickets(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, tk.ID, list[0].ID)
	assert.Equal(t, "+1 555 0100", list[0].Contact.Phone)
	assert.Equal(t, domain.PriorityHigh, list[0].Priority)
	assert.Equal(t, domain.SourceResponderSignal, list[1].Source)
}

func testAgents(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SetAgentOnline(ctx, "A2", "Bob", true))
	require.NoError(t, s.SetAgentOnline(ctx, "A1", "Alice", true))
	require.NoError(t, s.SetAgentOnline(ctx, "A3", "Carol", false))

	ids, err := s.ListOnlineAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, ids)

	require.NoError(t, s.SetAgentOnline(ctx, "A1", "", false))
	ids, err = s.ListOnlineAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, ids)

	require.NoError(t, s.ResetAgents(ctx))
	ids, err = s.ListOnlineAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testConcurrentDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewConversation(t, s, "acme")

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.PersistMessage(ctx, &domain.Message{
				ConversationID: c.ID,
				Role:           domain.RoleVisitor,
				Body:           "same reply",
				Kind:           domain.KindMailReply,
				DedupKey:       "<same@mail>",
				CreatedAt:      base.Add(time.Duration(i+1) * time.Second),
			})
			if err == nil {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, stored)
}
