package events

import (
	"encoding/json"
	"testing"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewEventBus()

	var got *Event
	bus.Subscribe(EventSubmissionQueued, func(event *Event) error {
		got = event
		return nil
	})

	bus.Publish(&Event{Type: EventSubmissionQueued, Payload: []byte(`{}`)})

	if got == nil {
		t.Fatal("subscriber was not invoked")
	}
	if got.CreatedAt.IsZero() {
		t.Error("publish should stamp CreatedAt")
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewEventBus()

	var payload SubmissionEventPayload
	bus.Subscribe(EventSubmissionSynced, func(event *Event) error {
		return json.Unmarshal(event.Payload, &payload)
	})

	err := bus.PublishJSON(EventSubmissionSynced, SubmissionEventPayload{
		SubmissionID: "inventory_sess1_1700000000000",
		Type:         "inventory",
		StoreID:      "s1",
		SessionID:    "sess1",
		Outcome:      "synced",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if payload.SubmissionID != "inventory_sess1_1700000000000" {
		t.Errorf("submission id = %q", payload.SubmissionID)
	}
	if payload.Outcome != "synced" {
		t.Errorf("outcome = %q", payload.Outcome)
	}
}

func TestPublishJSONOnNilBus(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventOnline, map[string]bool{"online": true}); err != nil {
		t.Fatalf("nil bus should be a no-op, got %v", err)
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()

	calls := 0
	for i := 0; i < 3; i++ {
		bus.Subscribe(EventOffline, func(*Event) error {
			calls++
			return nil
		})
	}

	bus.Publish(&Event{Type: EventOffline})
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
}

func TestPublishUnknownTypeIsNoop(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(&Event{Type: "nobody_listens"})
}
