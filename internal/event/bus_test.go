package event

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(TypeProcessStarted, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	bus.Publish(NewProcessStartedEvent(123, "codex", "/tmp"))
	bus.Publish(NewProcessCompletedEvent(123, 0, time.Second)) // no subscriber

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	started, ok := received[0].(ProcessStartedEvent)
	if !ok {
		t.Fatalf("received event of type %T, want ProcessStartedEvent", received[0])
	}
	if started.PID != 123 {
		t.Errorf("PID = %d, want 123", started.PID)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(e Event) { count++ })

	bus.Publish(NewProcessTimeoutEvent(1, time.Second))
	bus.Publish(NewProcessForceKillEvent(1))
	bus.Publish(NewShutdownCompleteEvent(2))

	if count != 3 {
		t.Errorf("wildcard handler called %d times, want 3", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(TypeProcessFailed, func(e Event) { count++ })

	bus.Publish(NewProcessFailedEvent(0, "spawn failed"))
	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	bus.Publish(NewProcessFailedEvent(0, "spawn failed again"))

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned true for a removed subscription")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	called := false
	bus.Subscribe(TypeHealthWarning, func(e Event) { panic("boom") })
	bus.Subscribe(TypeHealthWarning, func(e Event) { called = true })

	bus.Publish(NewHealthWarningEvent("success rate below threshold"))

	if !called {
		t.Error("second handler not called after first panicked")
	}
}

func TestClear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TypeProgressUpdate, func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	if got := bus.SubscriptionCount(); got != 2 {
		t.Fatalf("SubscriptionCount = %d, want 2", got)
	}
	bus.Clear()
	if got := bus.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount after Clear = %d, want 0", got)
	}
}
