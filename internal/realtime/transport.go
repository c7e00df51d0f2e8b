package realtime

import (
	"context"
	"encoding/json"
)

// Handler reacts to the payload of one event.
type Handler func(data json.RawMessage) error

// Transport is a persistent room-scoped event channel. Implementations must
// dispatch handlers in arrival order.
type Transport interface {
	JoinRoom(ctx context.Context, room string) error
	LeaveRoom(ctx context.Context, room string) error
	Emit(ctx context.Context, event string, payload any) error
	On(event string, handler Handler)
	// OnReconnect registers fn to run after the connection was re-established.
	// Events missed while disconnected are not replayed.
	OnReconnect(fn func())
}
