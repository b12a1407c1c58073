// Package events fans live worker output out to the dashboard's event
// stream subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Broker broadcasts named events to any number of subscriber channels. A slow
// subscriber whose buffer is full misses the event rather than stalling the
// worker's reader goroutines.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan string]struct{})}
}

// Subscribe registers a new client and returns its channel plus a cancel
// function. The channel is closed on cancel.
func (b *Broker) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	slog.Debug("event subscriber connected", "total", n)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish serializes data and sends it to every subscriber as an SSE-framed
// message with the given event name.
func (b *Broker) Publish(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Warn("drop unserializable event", "event", event, "error", err)
		return
	}
	msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event, raw)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			// subscriber buffer full; skip
		}
	}
}

// Subscribers reports the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
