// Package feed fans out "session changed" events to live-feed subscribers.
package feed

import (
	"context"
	"sync"
)

// Hub is an in-process publish/subscribe registry keyed by session ID.
// Events carry no payload; subscribers re-read the feed when signalled.
type Hub struct {
	mu   sync.Mutex
	subs map[int64]map[chan struct{}]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan struct{}]struct{})}
}

// Subscribe registers interest in a session.  The returned channel receives a
// value whenever the session changes; bursts are coalesced into one signal.
// The cancel function must be called to release the subscription.
func (h *Hub) Subscribe(sessionID int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
		})
	}
}

// Publish signals every subscriber of sessionID without blocking.
func (h *Hub) Publish(sessionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Notify satisfies core.Notifier for single-process deployments.
func (h *Hub) Notify(_ context.Context, sessionID int64) error {
	h.Publish(sessionID)
	return nil
}

// Subscribers reports how many subscriptions are open for a session.
func (h *Hub) Subscribers(sessionID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
