// Package events allows for the registering and receiving of events.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// messageBuffer is the number of events a slow receiver can fall behind
// before events are dropped for it.
const messageBuffer = 100

// Event is the JSON form of a chain event sent to receivers.
type Event struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	mu      sync.RWMutex
	m       map[string]chan string
	dropped uint64
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	evt.m[id] = make(chan string, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send signals a message to every registered channel. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(s string) {
	evt.mu.RLock()
	var dropped uint64
	for _, ch := range evt.m {
		select {
		case ch <- s:
		default:
			dropped++
		}
	}
	evt.mu.RUnlock()

	if dropped > 0 {
		evt.mu.Lock()
		evt.dropped += dropped
		evt.mu.Unlock()
	}
}

// SendEvent marshals the value as an Event of the specified kind and sends
// it to every registered channel.
func (evt *Events) SendEvent(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}

	msg, err := json.Marshal(Event{Kind: kind, Data: data})
	if err != nil {
		return err
	}

	evt.Send(string(msg))
	return nil
}

// Viewer returns an event handler that forwards the messages carrying the
// "viewer:" prefix to the receivers.
func (evt *Events) Viewer() func(v string, args ...any) {
	const prefix = "viewer: "

	return func(v string, args ...any) {
		if !strings.HasPrefix(v, prefix) {
			return
		}
		evt.Send(fmt.Sprintf(strings.TrimPrefix(v, prefix), args...))
	}
}

// Receivers returns the number of registered channels.
func (evt *Events) Receivers() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.m)
}

// Dropped returns the number of messages dropped for slow receivers.
func (evt *Events) Dropped() uint64 {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return evt.dropped
}
