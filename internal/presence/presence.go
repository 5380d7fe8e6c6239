// Package presence tracks which human agents are connected. An empty registry
// is the signal that the automated responder should answer visitors.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/logging"
)

// Mirror receives best-effort copies of presence changes, typically the
// store's agents.online column.
type Mirror interface {
	SetAgentOnline(ctx context.Context, agentID, name string, online bool) error
}

// Registry is an in-memory, concurrency-safe set of online agents keyed by id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]domain.AgentPresence // agentID → entry
	mirror  Mirror
	now     func() time.Time
	log     *logging.Logger
}

// New creates an empty registry. mirror may be nil.
func New(mirror Mirror, log *logging.Logger) *Registry {
	return &Registry{
		entries: make(map[string]domain.AgentPresence),
		mirror:  mirror,
		now:     time.Now,
		log:     log,
	}
}

// SetOnline records the agent as present on the given connection. A later
// call for the same id replaces the earlier one.
func (r *Registry) SetOnline(agentID, name, connID string) {
	r.mu.Lock()
	prev, existed := r.entries[agentID]
	since := r.now()
	if existed {
		since = prev.Since
	}
	r.entries[agentID] = domain.AgentPresence{
		AgentID: agentID,
		Name:    name,
		ConnID:  connID,
		Since:   since,
	}
	r.mu.Unlock()

	r.log.Info().Str("agent", agentID).Str("connId", connID).Msg("agent online")
	r.mirrorChange(agentID, name, true)
}

// SetOffline removes the agent. It reports whether an entry was removed.
func (r *Registry) SetOffline(agentID string) bool {
	r.mu.Lock()
	e, ok := r.entries[agentID]
	delete(r.entries, agentID)
	r.mu.Unlock()

	if ok {
		r.log.Info().Str("agent", agentID).Msg("agent offline")
		r.mirrorChange(agentID, e.Name, false)
	}
	return ok
}

// ReleaseConnection removes every agent owned by connID and returns their
// ids. Agents that have since moved to another connection are kept.
func (r *Registry) ReleaseConnection(connID string) []string {
	r.mu.Lock()
	var released []domain.AgentPresence
	for id, e := range r.entries {
		if e.ConnID == connID {
			released = append(released, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(released))
	for _, e := range released {
		ids = append(ids, e.AgentID)
		r.log.Info().Str("agent", e.AgentID).Str("connId", connID).Msg("agent released with connection")
		r.mirrorChange(e.AgentID, e.Name, false)
	}
	sort.Strings(ids)
	return ids
}

// List returns the online agents ordered by id.
func (r *Registry) List() []domain.AgentPresence {
	r.mu.RLock()
	out := make([]domain.AgentPresence, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Get returns the entry for an agent.
func (r *Registry) Get(agentID string) (domain.AgentPresence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[agentID]
	return e, ok
}

// Count returns the number of online agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) mirrorChange(agentID, name string, online bool) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.mirror.SetAgentOnline(ctx, agentID, name, online); err != nil {
		r.log.Warn().Err(err).Str("agent", agentID).Bool("online", online).Msg("presence mirror failed")
	}
}
