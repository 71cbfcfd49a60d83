package changefeed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"sarathi/internal/logger"
)

type subscription struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

// Memory is a synchronous in-process feed. Handlers run on the publisher's goroutine
// in subscription order.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	nextID atomic.Uint64
	logg   *logger.Logger
}

// NewMemory creates an empty in-process feed.
func NewMemory(logg *logger.Logger) *Memory {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Memory{subs: make(map[string][]*subscription), logg: logg}
}

func (m *Memory) Subscribe(_ context.Context, collection Collection, id string, h Handler) (func(), error) {
	if h == nil {
		return nil, fmt.Errorf("changefeed: nil handler")
	}
	key := topic(collection, id)
	sub := &subscription{id: m.nextID.Add(1), handler: h}
	sub.active.Store(true)

	m.mu.Lock()
	m.subs[key] = append(m.subs[key], sub)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			m.remove(key, sub.id)
		})
	}, nil
}

func (m *Memory) remove(key string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[key]
	for i, s := range subs {
		if s.id == id {
			m.subs[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[key]) == 0 {
		delete(m.subs, key)
	}
}

func (m *Memory) Publish(ctx context.Context, c Change) error {
	m.mu.RLock()
	subs := make([]*subscription, len(m.subs[topic(c.Collection, c.ID)]))
	copy(subs, m.subs[topic(c.Collection, c.ID)])
	m.mu.RUnlock()

	for _, s := range subs {
		// A handler may unsubscribe a later one mid-publish.
		if !s.active.Load() {
			continue
		}
		m.safeCall(ctx, s.handler, c)
	}
	return nil
}

// SubscriptionCount returns the number of live subscriptions.
func (m *Memory) SubscriptionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.subs {
		n += len(subs)
	}
	return n
}

func (m *Memory) safeCall(ctx context.Context, h Handler, c Change) {
	defer func() {
		if r := recover(); r != nil {
			m.logg.Error(ctx, "changefeed handler panicked", fmt.Errorf("%s %s: %v", c.Collection, c.ID, r))
		}
	}()
	h(c)
}
