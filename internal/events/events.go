package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSubmissionQueued = "submission_queued"
	EventSubmissionSynced = "submission_synced"
	EventSubmissionFailed = "submission_failed"
	EventOnline           = "connectivity_online"
	EventOffline          = "connectivity_offline"
)

// SubmissionEventPayload describes the minimal submission snapshot for
// event consumers.
type SubmissionEventPayload struct {
	SubmissionID string `json:"submission_id"`
	Type         string `json:"type"`
	StoreID      string `json:"store_id"`
	SessionID    string `json:"session_id"`
	Outcome      string `json:"outcome"`
	Message      string `json:"message,omitempty"`
}

// ConnectivityEventPayload reports a reachability transition.
type ConnectivityEventPayload struct {
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
