package pubsub

import (
	"context"
	"sync"
)

// MemoryPubSub is an in-process bus. Every subscriber of a channel,
// including ones held by the publisher, receives each event.
type MemoryPubSub struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	ch     chan *Event
	cancel context.CancelFunc
	once   sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

// NewMemoryPubSub creates an empty in-process bus.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string]map[*memorySub]struct{})}
}

// Publish delivers event to every current subscriber of channel. Slow
// subscribers lose the event rather than block the publisher.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs[channel] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber that lives until ctx ends or the
// channel is unsubscribed.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySub{ch: make(chan *Event, 100), cancel: cancel}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		close(sub.ch)
		return sub.ch, nil
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySub]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-subCtx.Done()
		m.mu.Lock()
		delete(m.subs[channel], sub)
		sub.close()
		m.mu.Unlock()
	}()

	return sub.ch, nil
}

// Unsubscribe drops every subscriber of channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	subs := m.subs[channel]
	delete(m.subs, channel)
	m.mu.Unlock()

	for sub := range subs {
		sub.cancel()
	}
	return nil
}

// Close drops all subscribers.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	m.closed = true
	all := m.subs
	m.subs = make(map[string]map[*memorySub]struct{})
	m.mu.Unlock()

	for _, subs := range all {
		for sub := range subs {
			sub.cancel()
		}
	}
	return nil
}
