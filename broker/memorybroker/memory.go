// Package memorybroker is an in-process broker.Broker.
package memorybroker

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/salon-mcp/broker"
)

// Broker is an in-memory implementation of broker.Broker.
type Broker struct {
	mu       sync.Mutex
	sessions map[string]*outbox
	counter  atomic.Int64
}

type outbox struct {
	pending     []broker.Envelope
	subscribers map[*subscription]struct{}
}

type subscription struct {
	b         *Broker
	sessionID string
	ready     chan struct{}
	closeOnce sync.Once
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{sessions: make(map[string]*outbox)}
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) Publish(_ context.Context, sessionID string, data []byte) error {
	env := broker.Envelope{
		ID:   strconv.FormatInt(b.counter.Add(1), 10),
		Data: append([]byte(nil), data...),
	}

	b.mu.Lock()
	ob := b.ensure(sessionID)
	ob.pending = append(ob.pending, env)
	subs := make([]*subscription, 0, len(ob.subscribers))
	for sub := range ob.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ready <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Broker) Drain(_ context.Context, sessionID string) ([]broker.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ob, ok := b.sessions[sessionID]
	if !ok || len(ob.pending) == 0 {
		return nil, nil
	}
	out := ob.pending
	ob.pending = nil
	b.gc(sessionID, ob)
	return out, nil
}

func (b *Broker) Subscribe(_ context.Context, sessionID string) (broker.Subscription, error) {
	sub := &subscription{b: b, sessionID: sessionID, ready: make(chan struct{}, 1)}

	b.mu.Lock()
	b.ensure(sessionID).subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

func (b *Broker) Cleanup(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ob, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	ob.pending = nil
	b.gc(sessionID, ob)
	return nil
}

// ensure returns the outbox for sessionID, creating it. Callers hold b.mu.
func (b *Broker) ensure(sessionID string) *outbox {
	ob, ok := b.sessions[sessionID]
	if !ok {
		ob = &outbox{subscribers: make(map[*subscription]struct{})}
		b.sessions[sessionID] = ob
	}
	return ob
}

// gc forgets empty, unobserved outboxes. Callers hold b.mu.
func (b *Broker) gc(sessionID string, ob *outbox) {
	if len(ob.pending) == 0 && len(ob.subscribers) == 0 {
		delete(b.sessions, sessionID)
	}
}

func (s *subscription) Ready() <-chan struct{} { return s.ready }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		if ob, ok := s.b.sessions[s.sessionID]; ok {
			delete(ob.subscribers, s)
			s.b.gc(s.sessionID, ob)
		}
	})
	return nil
}
