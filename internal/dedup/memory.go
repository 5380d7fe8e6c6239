package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a seen key is remembered.
const DefaultTTL = 24 * time.Hour

type memoryEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Memory is a TTL-bounded, size-limited in-process seen-set. It resets on
// restart; the store's unique dedup key covers replays after that.
type Memory struct {
	mu      sync.Mutex
	seen    map[string]*memoryEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewMemory creates a seen-set and starts its expiry sweeper.
func NewMemory(ttl time.Duration, maxSize int) *Memory {
	m := &Memory{
		seen:    make(map[string]*memoryEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// CheckAndMark implements Set.
func (m *Memory) CheckAndMark(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.seen[key]; ok && now.Sub(e.timestamp) < m.ttl {
		return true, nil
	}
	m.markLocked(key, now)
	return false, nil
}

// Forget implements Set.
func (m *Memory) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.seen[key]; ok {
		m.order.Remove(e.element)
		delete(m.seen, key)
	}
	return nil
}

// size returns the number of remembered keys, expired or not.
func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// markLocked must be called with mu held.
func (m *Memory) markLocked(key string, now time.Time) {
	if e, ok := m.seen[key]; ok {
		e.timestamp = now
		m.order.MoveToBack(e.element)
		return
	}
	if len(m.seen) >= m.maxSize {
		if front := m.order.Front(); front != nil {
			old, _ := front.Value.(string)
			m.order.Remove(front)
			delete(m.seen, old)
		}
	}
	m.seen[key] = &memoryEntry{timestamp: now, element: m.order.PushBack(key)}
}

func (m *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.expire()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) expire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.seen {
		if now.Sub(e.timestamp) >= m.ttl {
			m.order.Remove(e.element)
			delete(m.seen, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
