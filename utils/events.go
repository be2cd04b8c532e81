package utils

import (
	"sync"

	"inboxpilot/models"
)

// EmailEvent is broadcast to live inbox subscribers when a message lands.
type EmailEvent struct {
	Type  string        `json:"type"`
	Email *models.Email `json:"email"`
}

// EventHub fans ingestion events out to websocket subscribers. Slow
// subscribers are skipped rather than blocking the ingestion path.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan EmailEvent]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan EmailEvent]struct{})}
}

func (h *EventHub) Subscribe() chan EmailEvent {
	ch := make(chan EmailEvent, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan EmailEvent) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *EventHub) Publish(event EmailEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
