package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerMethods(t *testing.T) {
	g := testServer(t)

	assert.ElementsMatch(t, []string{
		"health",
		"agent.presence", "presence.list", "conversation.list", "conversation.assign",
		"conversation.start", "identity.update",
		"conversation.join", "conversation.leave",
		"typing.start", "typing.stop",
		"message.send", "history.fetch", "ticket.create", "conversation.end",
	}, g.srv.Methods())
}

func TestInvalidParams(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")

	f := a.call(t, "message.send", []string{"not", "an", "object"})
	assert.False(t, *f.OK)
	assert.Equal(t, "invalid", f.Error.Code)
}

func TestConversationListAndAssign(t *testing.T) {
	g := testServer(t)
	a := agent(t, g.ts, "A1")
	w := widget(t, g.ts, "acme")
	conv := startConversation(t, w)

	var list struct {
		Conversations []startedConversation `json:"conversations"`
	}
	a.ok(t, "conversation.list", map[string]string{"orgId": "acme"}, &list)
	if assert.Len(t, list.Conversations, 1) {
		assert.Equal(t, conv.ID, list.Conversations[0].Conversation.ID)
	}

	var assigned startedConversation
	a.ok(t, "conversation.assign", map[string]string{"conversationId": conv.ID}, &assigned)
	assert.Equal(t, "A1", assigned.Conversation.Assignment)
	assert.Equal(t, "not_found", a.fails(t, "conversation.assign", map[string]string{"conversationId": "missing"}))
}

func TestIdentityUpdate(t *testing.T) {
	g := testServer(t)
	w := widget(t, g.ts, "acme")
	conv := startConversation(t, w)

	var out startedConversation
	w.ok(t, "identity.update", map[string]string{"conversationId": conv.ID, "name": "Jane", "email": "Jane@Example.com"}, &out)
	assert.Equal(t, "Jane", out.Conversation.Name)
	assert.Equal(t, "jane@example.com", out.Conversation.Email)

	assert.Equal(t, "invalid", w.fails(t, "identity.update", map[string]string{"conversationId": conv.ID, "email": "nope"}))
}

func TestConversationLeaveStopsEvents(t *testing.T) {
	g := testServer(t)
	w := widget(t, g.ts, "acme")
	conv := startConversation(t, w)

	w.ok(t, "conversation.leave", map[string]string{"conversationId": conv.ID}, nil)
	assert.False(t, g.srv.VisitorConnected(conv.ID))
	assert.Equal(t, "forbidden", w.fails(t, "message.send", map[string]string{"conversationId": conv.ID, "body": "hi"}))
}
