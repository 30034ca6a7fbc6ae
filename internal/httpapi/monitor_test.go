package httpapi

import (
	"testing"
	"time"

	"github.com/rgkrishnan/vaani/internal/callflow"
)

func TestMonitorHubPublishToSubscribers(t *testing.T) {
	hub := NewMonitorHub()
	events, unsubscribe := hub.Subscribe("CA1")
	defer unsubscribe()

	hub.Publish(callflow.MonitorEvent{CallID: "CA1", Type: "turn", Text: "hello"})
	hub.Publish(callflow.MonitorEvent{CallID: "CA-other", Type: "turn"})

	select {
	case ev := <-events:
		if ev.Text != "hello" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case ev := <-events:
		t.Fatalf("event for another call leaked: %+v", ev)
	default:
	}
}

func TestMonitorHubUnsubscribe(t *testing.T) {
	hub := NewMonitorHub()
	_, unsubscribe := hub.Subscribe("CA1")
	if hub.WatcherCount("CA1") != 1 {
		t.Fatalf("watchers = %d", hub.WatcherCount("CA1"))
	}
	unsubscribe()
	if hub.WatcherCount("CA1") != 0 {
		t.Fatalf("watchers after unsubscribe = %d", hub.WatcherCount("CA1"))
	}
	// Publishing to a call without watchers is a no-op.
	hub.Publish(callflow.MonitorEvent{CallID: "CA1", Type: "turn"})
}

func TestMonitorHubNeverBlocks(t *testing.T) {
	hub := NewMonitorHub()
	_, unsubscribe := hub.Subscribe("CA1")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Nobody drains; publishes past the buffer must drop, not block.
		for i := 0; i < 100; i++ {
			hub.Publish(callflow.MonitorEvent{CallID: "CA1", Type: "turn"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow watcher")
	}
}
