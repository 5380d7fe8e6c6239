// Package hooks publishes conversation lifecycle events to in-process handlers
// and configured webhooks.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/livedesk/internal/logging"
)

// Lifecycle events. Only conversation_ended and ticket_created are offered
// to webhooks; the rest are for in-process listeners.
const (
	EventConversationStarted = "conversation_started"
	EventMessageReceived     = "message_received"
	EventConversationEnded   = "conversation_ended"
	EventTicketCreated       = "ticket_created"
	EventAgentOnline         = "agent_online"
	EventAgentOffline        = "agent_offline"
	EventGatewayStart        = "gateway_start"
	EventGatewayStop         = "gateway_stop"
)

// Payload is what handlers and webhook receivers see.
type Payload struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. A returned error is logged and the remaining
// handlers still run.
type Handler func(ctx context.Context, p Payload) error

type subscriber struct {
	name string
	fn   Handler
}

// Manager fans events out to subscribers in registration order.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]subscriber
	wg   sync.WaitGroup
	now  func() time.Time
	log  *logging.Logger
}

// NewManager returns a Manager with no subscribers.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		subs: make(map[string][]subscriber),
		now:  time.Now,
		log:  log.Sub("hooks"),
	}
}

// On subscribes fn to event under name.
func (m *Manager) On(event, name string, fn Handler) {
	m.mu.Lock()
	m.subs[event] = append(m.subs[event], subscriber{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Count returns how many handlers listen on event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[event])
}

// Emit runs every handler for event before returning.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	subs, p, ok := m.prepare(event, data)
	if !ok {
		return
	}
	m.run(ctx, subs, p)
}

// EmitAsync runs the handlers for event on one background goroutine, in
// order. Wait blocks until all such runs have finished.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	subs, p, ok := m.prepare(event, data)
	if !ok {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, subs, p)
	}()
}

// Wait blocks until every EmitAsync run has returned.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) prepare(event string, data map[string]any) ([]subscriber, Payload, bool) {
	m.mu.RLock()
	subs := append([]subscriber(nil), m.subs[event]...)
	m.mu.RUnlock()
	if len(subs) == 0 {
		return nil, Payload{}, false
	}
	return subs, Payload{
		ID:         uuid.NewString(),
		Event:      event,
		OccurredAt: m.now().UTC(),
		Data:       data,
	}, true
}

func (m *Manager) run(ctx context.Context, subs []subscriber, p Payload) {
	for _, s := range subs {
		if err := m.call(ctx, s, p); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", p.Event).
				Str("handler", s.name).
				Msg("hook handler failed")
		}
	}
}

func (m *Manager) call(ctx context.Context, s subscriber, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, p)
}
