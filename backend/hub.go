package backend

import (
	"context"
	"sync"
)

const subscriptionBuffer = 64

// Hub fans published events out to matching subscriptions. The memory,
// mongo and postgres backends feed it from their own change sources.
type Hub struct {
	mu   sync.Mutex
	subs map[*hubSubscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscription]struct{})}
}

// Subscribe registers a subscription that lives until Close is called or
// ctx is done.
func (h *Hub) Subscribe(ctx context.Context, cfg SubscribeConfig) (Subscription, error) {
	sub := &hubSubscription{
		hub:    h,
		cfg:    cfg,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish delivers ev to every matching subscription without blocking.
// When a subscriber's buffer is full the event is dropped: the buffered
// events already carry the same invalidation for that subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if !sub.cfg.Matches(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// CloseAll closes every live subscription.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]*hubSubscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

type hubSubscription struct {
	hub    *Hub
	cfg    SubscribeConfig
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *hubSubscription) Events() <-chan Event {
	return s.events
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.events)
		s.hub.mu.Unlock()
		close(s.done)
	})
	return nil
}
