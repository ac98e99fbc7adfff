// Package events fans scan and sync lifecycle events out to live
// subscribers over SSE and WebSocket.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Topics published by the engine.
const (
	TopicScanCompleted = "scan.completed"
	TopicSyncCompleted = "sync.completed"
	TopicAll           = "*"
)

// Event is one serialized message delivered to subscribers.
type Event struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Hub is a fan-out hub keyed by topic. Subscribers on TopicAll receive
// every event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	logger      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for one topic. It returns the delivery
// channel and a cancel function that must be called on disconnect.
func (h *Hub) Subscribe(topic string) (chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[chan Event]struct{})
	}
	h.subscribers[topic][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers[topic], ch)
		if len(h.subscribers[topic]) == 0 {
			delete(h.subscribers, topic)
		}
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast serializes payload and delivers it to the event's topic plus
// the firehose. Slow subscribers drop events rather than block the scanner.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("events: marshal failed", "type", eventType, "error", err)
		return
	}
	ev := Event{Type: eventType, Time: time.Now().UTC(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range []string{eventType, TopicAll} {
		for ch := range h.subscribers[topic] {
			select {
			case ch <- ev:
			default:
				h.logger.Warn("events: dropped event for slow subscriber", "topic", topic)
			}
		}
	}
}

// SubscriberCount reports active subscribers for a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}
