// Package events fans session events out to subscribers, namespaced per
// workspace id.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/agentdeck/agentdeck/pkg/types"
)

type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[chan types.Event]struct{} // workspaceID -> subscribers
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan types.Event]struct{})}
}

func (b *Broker) Subscribe(workspaceID string, buf int) chan types.Event {
	if buf <= 0 {
		buf = 128
	}
	ch := make(chan types.Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[workspaceID]; !ok {
		b.subs[workspaceID] = make(map[chan types.Event]struct{})
	}
	b.subs[workspaceID][ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(workspaceID string, ch chan types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[workspaceID]; ok {
		if _, ok := m[ch]; !ok {
			return
		}
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, workspaceID)
		}
		close(ch)
	}
}

// Publish delivers ev to every subscriber of its workspace. Slow subscribers
// lose events rather than stalling the publisher.
func (b *Broker) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.WorkspaceID] {
		select {
		case ch <- ev:
		default:
			count := b.dropped.Add(1)
			if count == 1 || count%100 == 0 {
				slog.Warn("events: dropped event for slow subscriber",
					"workspace", ev.WorkspaceID, "type", ev.Type, "total_dropped", count)
			}
		}
	}
}

// DroppedCount returns the total number of events dropped due to slow subscribers.
func (b *Broker) DroppedCount() int64 {
	return b.dropped.Load()
}
