package capture

import (
	"sync"
	"time"
)

// LiveEvent is a lightweight notification fanned out to live observers.
type LiveEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	SourceIP  string    `json:"source_ip"`
	Kind      string    `json:"kind"`
	Data      string    `json:"data,omitempty"`
}

const subscriberBuffer = 64

// Hub broadcasts capture events to live subscribers (the admin websocket).
// Publishing never blocks: a subscriber that cannot keep up loses events
// rather than stalling a session.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan LiveEvent]struct{}
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan LiveEvent]struct{})}
}

// Subscribe registers a new observer. The returned cancel function must be
// called exactly once; it closes the channel.
func (h *Hub) Subscribe() (<-chan LiveEvent, func()) {
	ch := make(chan LiveEvent, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans an event out to all current subscribers, dropping it for
// any whose buffer is full.
func (h *Hub) Publish(ev LiveEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
