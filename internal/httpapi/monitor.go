package httpapi

import (
	"sync"

	"github.com/rgkrishnan/vaani/internal/callflow"
)

// MonitorHub fans call progress events out to live websocket watchers, keyed
// by call id. Publish never blocks the call path: a slow watcher drops events
// instead of stalling a webhook step.
type MonitorHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan callflow.MonitorEvent]struct{}
}

func NewMonitorHub() *MonitorHub {
	return &MonitorHub{subs: make(map[string]map[chan callflow.MonitorEvent]struct{})}
}

func (h *MonitorHub) Publish(ev callflow.MonitorEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.CallID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a watcher for one call and returns its event channel
// with an unsubscribe func. The channel is buffered; the caller must drain it.
func (h *MonitorHub) Subscribe(callID string) (<-chan callflow.MonitorEvent, func()) {
	ch := make(chan callflow.MonitorEvent, 32)
	h.mu.Lock()
	if h.subs[callID] == nil {
		h.subs[callID] = make(map[chan callflow.MonitorEvent]struct{})
	}
	h.subs[callID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs[callID], ch)
		if len(h.subs[callID]) == 0 {
			delete(h.subs, callID)
		}
		h.mu.Unlock()
	}
}

func (h *MonitorHub) WatcherCount(callID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[callID])
}
