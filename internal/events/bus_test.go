package events

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("expected non-nil bus")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	if bus.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}

	bus.Unsubscribe(ch1)
	if bus.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	if _, ok := <-ch1; ok {
		t.Error("expected unsubscribed channel to be closed")
	}
	_ = ch2
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(NewWorkerStoppedEvent(3))

	select {
	case received := <-ch:
		if received.Type != EventWorkerStopped {
			t.Errorf("expected type %s, got %s", EventWorkerStopped, received.Type)
		}
		if received.Data.WorkerID == nil || *received.Data.WorkerID != 3 {
			t.Errorf("expected worker 3, got %v", received.Data.WorkerID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewConnectionAcceptedEvent("conn-1", "127.0.0.1:5000"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Type != EventConnectionAccepted {
				t.Errorf("subscriber %d: expected type %s, got %s", i, EventConnectionAccepted, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1

	ch := bus.Subscribe()

	bus.Publish(NewJobDroppedEvent(nil))
	bus.Publish(NewJobDroppedEvent(nil))
	bus.Publish(NewJobDroppedEvent(nil))

	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for first event")
	}

	if bus.Dropped() != 2 {
		t.Errorf("expected 2 dropped deliveries, got %d", bus.Dropped())
	}
}

func TestBusNilPublish(t *testing.T) {
	var bus *Bus
	// nil バスへの発行はパニックしない
	bus.Publish(NewWorkerStoppedEvent(0))
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", bus.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}

	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected subscription after close to be closed")
	}
}

func TestEventCreation(t *testing.T) {
	t.Run("HandlerFailed", func(t *testing.T) {
		event := NewHandlerFailedEvent("conn-1", errors.New("request empty"))
		if event.Type != EventHandlerFailed {
			t.Errorf("expected %s, got %s", EventHandlerFailed, event.Type)
		}
		if event.Source != "conn-1" {
			t.Errorf("expected conn-1, got %s", event.Source)
		}
		if event.Data.Error != "request empty" {
			t.Errorf("unexpected error text: %s", event.Data.Error)
		}
	})

	t.Run("JobPanicked", func(t *testing.T) {
		tests := []struct {
			recovered any
			want      string
		}{
			{"boom", "boom"},
			{errors.New("bad"), "bad"},
			{42, "42"},
		}
		for _, tt := range tests {
			event := NewJobPanickedEvent(1, tt.recovered)
			if event.Data.Error != tt.want {
				t.Errorf("expected %q, got %q", tt.want, event.Data.Error)
			}
			if event.Data.WorkerID == nil || *event.Data.WorkerID != 1 {
				t.Errorf("expected worker 1, got %v", event.Data.WorkerID)
			}
		}
	})

	t.Run("JobDroppedNilError", func(t *testing.T) {
		event := NewJobDroppedEvent(nil)
		if event.Data.Error != "" {
			t.Errorf("expected empty error, got %q", event.Data.Error)
		}
	})
}

func TestEventJSONWorkerID(t *testing.T) {
	data, err := json.Marshal(NewWorkerStoppedEvent(0))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"worker_id":0`) {
		t.Errorf("expected worker 0 to be encoded, got %s", data)
	}

	data, err = json.Marshal(NewConnectionAcceptedEvent("conn", "127.0.0.1:1234"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "worker_id") {
		t.Errorf("expected no worker id on connection events, got %s", data)
	}
}
