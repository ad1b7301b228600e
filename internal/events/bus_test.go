package events

import (
	"errors"
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

	bus.Unsubscribe(ch2)
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewConnectedEvent(3, "localhost:8888", 0))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Type != EventConnected {
				t.Errorf("subscriber %d: expected type %s, got %s", i, EventConnected, received.Type)
			}
			if received.ClientID != 3 {
				t.Errorf("subscriber %d: expected client 3, got %d", i, received.ClientID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)

	ch := bus.Subscribe()

	bus.Publish(NewSessionStartedEvent(0, "a"))
	bus.Publish(NewSessionStartedEvent(1, "a"))
	bus.Publish(NewSessionStartedEvent(2, "a"))

	select {
	case ev := <-ch:
		if ev.ClientID != 0 {
			t.Errorf("expected first event to be kept, got client %d", ev.ClientID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for first event")
	}
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

	// Close 後の Subscribe と Publish は安全
	late := bus.Subscribe()
	bus.Publish(NewSessionStartedEvent(0, "a"))
	if _, ok := <-late; ok {
		t.Error("expected late subscription to be closed")
	}
}

func TestEventCreation(t *testing.T) {
	t.Run("Reconnecting", func(t *testing.T) {
		event := NewReconnectingEvent(2, 17, errors.New("connection reset"))
		if event.Type != EventReconnecting {
			t.Errorf("expected %s, got %s", EventReconnecting, event.Type)
		}
		if event.Data.Iteration != 17 {
			t.Errorf("expected iteration 17, got %d", event.Data.Iteration)
		}
		if event.Data.Error != "connection reset" {
			t.Errorf("unexpected error text %q", event.Data.Error)
		}
	})

	t.Run("Finished", func(t *testing.T) {
		event := NewSessionFinishedEvent(1, 10000, 2)
		if event.Type != EventSessionFinished {
			t.Errorf("expected %s, got %s", EventSessionFinished, event.Type)
		}
		if event.Data.Reconnects != 2 {
			t.Errorf("expected 2 reconnects, got %d", event.Data.Reconnects)
		}
	})

	t.Run("FailedWithoutError", func(t *testing.T) {
		event := NewSessionFailedEvent(1, 5, nil)
		if event.Data.Error != "" {
			t.Errorf("expected empty error, got %q", event.Data.Error)
		}
	})
}

func TestBusUnsubscribeTwice(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}
