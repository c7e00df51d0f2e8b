package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// Bus is an in-process Transport. It keeps the handler registry and the joined
// rooms, and delivers published messages synchronously in publish order.
// WSTransport uses it for dispatch; tests use it directly as a fake server.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	rooms     map[string]struct{}
	reconnect []func()
	emitted   []Message
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		rooms:    make(map[string]struct{}),
	}
}

// On registers a handler for a given event.
func (b *Bus) On(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// OnReconnect registers fn to run on Reconnect.
func (b *Bus) OnReconnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconnect = append(b.reconnect, fn)
}

// JoinRoom marks room as joined.
func (b *Bus) JoinRoom(_ context.Context, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[room] = struct{}{}
	return nil
}

// LeaveRoom marks room as left.
func (b *Bus) LeaveRoom(_ context.Context, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, room)
	return nil
}

// Joined reports whether room is joined.
func (b *Bus) Joined(room string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.rooms[room]
	return ok
}

// Rooms returns the joined rooms, sorted.
func (b *Bus) Rooms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.rooms))
	for r := range b.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Emit records an outbound event. Nothing is delivered back to local handlers.
func (b *Bus) Emit(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.emitted = append(b.emitted, Message{Event: event, Data: data})
	b.mu.Unlock()
	return nil
}

// Emitted returns the events passed to Emit.
func (b *Bus) Emitted() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Message(nil), b.emitted...)
}

// Deliver dispatches msg to the handlers of its event. Messages addressed to a
// room that is not joined are dropped and Deliver returns false.
func (b *Bus) Deliver(msg Message) (bool, error) {
	b.mu.RLock()
	if msg.Room != "" {
		if _, ok := b.rooms[msg.Room]; !ok {
			b.mu.RUnlock()
			return false, nil
		}
	}
	handlers := append([]Handler(nil), b.handlers[msg.Event]...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(msg.Data); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

// Publish marshals payload and delivers it as event in room.
func (b *Bus) Publish(room, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = b.Deliver(Message{Event: event, Room: room, Data: data})
	return err
}

// Reconnect runs the reconnect callbacks.
func (b *Bus) Reconnect() {
	b.mu.RLock()
	fns := append([]func(){}, b.reconnect...)
	b.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
