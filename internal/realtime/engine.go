package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"motorent/internal/domain"
	"motorent/internal/metrics"
	"motorent/internal/models"
)

// Engine holds the locally known units and transactions and patches them with
// events in arrival order. There is no reordering: the last write wins per field.
// After a reconnect the engine re-joins its rooms and calls the resync callback;
// until that refetch lands the view may be stale.
type Engine struct {
	transport Transport
	logger    zerolog.Logger

	mu        sync.Mutex
	units     map[int64]models.RentalUnit
	order     []int64
	removed   map[int64]struct{}
	active    *models.DateRange
	txs       map[int64]models.Transaction
	txOrder   []int64
	rooms     map[string]struct{}
	listeners map[int]func()
	nextID    int

	onBooking func(unitID int64, r models.DateRange)
	onResync  func()
}

// NewEngine creates an engine and registers its handlers on transport.
func NewEngine(transport Transport, logger zerolog.Logger) *Engine {
	e := &Engine{
		transport: transport,
		logger:    logger.With().Str("component", "realtime").Logger(),
		units:     make(map[int64]models.RentalUnit),
		removed:   make(map[int64]struct{}),
		txs:       make(map[int64]models.Transaction),
		rooms:     make(map[string]struct{}),
		listeners: make(map[int]func()),
	}
	for _, event := range append(append([]string{}, UnitEvents...), TransactionEvents...) {
		event := event
		transport.On(event, func(data json.RawMessage) error {
			return e.Apply(event, data)
		})
	}
	transport.OnReconnect(e.handleReconnect)
	return e
}

// OnBookingCreated sets a hook called for every booking-created event, e.g. to
// invalidate cached availability for the booked dates.
func (e *Engine) OnBookingCreated(fn func(unitID int64, r models.DateRange)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onBooking = fn
}

// OnResync sets the callback that refetches state after a reconnect.
func (e *Engine) OnResync(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResync = fn
}

// Subscribe registers fn to run after every change. The returned function removes it.
func (e *Engine) Subscribe(fn func()) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Join subscribes to room. Joining a room twice is a no-op.
func (e *Engine) Join(ctx context.Context, room string) error {
	e.mu.Lock()
	_, joined := e.rooms[room]
	e.mu.Unlock()
	if joined {
		return nil
	}

	if err := e.transport.JoinRoom(ctx, room); err != nil {
		return fmt.Errorf("join room %s: %w", room, err)
	}

	e.mu.Lock()
	e.rooms[room] = struct{}{}
	e.mu.Unlock()
	e.logger.Debug().Str("room", room).Msg("room joined")
	return nil
}

// Leave unsubscribes from room. Leaving a room that was never joined is a no-op.
func (e *Engine) Leave(ctx context.Context, room string) error {
	e.mu.Lock()
	_, joined := e.rooms[room]
	e.mu.Unlock()
	if !joined {
		return nil
	}

	if err := e.transport.LeaveRoom(ctx, room); err != nil {
		return fmt.Errorf("leave room %s: %w", room, err)
	}

	e.mu.Lock()
	delete(e.rooms, room)
	e.mu.Unlock()
	e.logger.Debug().Str("room", room).Msg("room left")
	return nil
}

// Rooms returns the joined rooms, sorted.
func (e *Engine) Rooms() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.rooms))
	for r := range e.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Load replaces the unit snapshot after a full fetch and sets the active date
// range used for optimistic removal. Optimistic removals are cleared.
func (e *Engine) Load(units []models.RentalUnit, active *models.DateRange) {
	e.mu.Lock()
	e.units = make(map[int64]models.RentalUnit, len(units))
	e.order = e.order[:0]
	for _, u := range units {
		if _, dup := e.units[u.ID]; !dup {
			e.order = append(e.order, u.ID)
		}
		e.units[u.ID] = u
	}
	e.removed = make(map[int64]struct{})
	if active != nil {
		r := *active
		e.active = &r
	} else {
		e.active = nil
	}
	e.mu.Unlock()
	e.notify()
}

// LoadTransactions replaces the transaction snapshot.
func (e *Engine) LoadTransactions(txs []models.Transaction) {
	e.mu.Lock()
	e.txs = make(map[int64]models.Transaction, len(txs))
	e.txOrder = e.txOrder[:0]
	for _, tx := range txs {
		if _, dup := e.txs[tx.ID]; !dup {
			e.txOrder = append(e.txOrder, tx.ID)
		}
		e.txs[tx.ID] = tx
	}
	e.mu.Unlock()
	e.notify()
}

// Units returns every known unit in insertion order.
func (e *Engine) Units() []models.RentalUnit {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.RentalUnit, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.units[id])
	}
	return out
}

// Unit returns one unit by id.
func (e *Engine) Unit(id int64) (models.RentalUnit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.units[id]
	return u, ok
}

// Available returns the units that can be offered: status AVAILABLE and not
// optimistically removed by a booking over the active range. Optimistic removal
// is a display heuristic; the canonical status is left untouched.
func (e *Engine) Available() []models.RentalUnit {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.RentalUnit, 0, len(e.order))
	for _, id := range e.order {
		u := e.units[id]
		if _, gone := e.removed[id]; gone || !u.IsAvailable() {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Transactions returns the known transactions in insertion order.
func (e *Engine) Transactions() []models.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Transaction, 0, len(e.txOrder))
	for _, id := range e.txOrder {
		out = append(out, e.txs[id])
	}
	return out
}

// Apply applies one event. Unknown events are ignored. Malformed payloads leave
// the state unchanged and return a validation error.
func (e *Engine) Apply(event string, data json.RawMessage) error {
	var (
		changed bool
		err     error
	)
	switch event {
	case EventUnitStatusChanged:
		changed, err = e.applyStatusChanged(data)
	case EventUnitUpserted:
		changed, err = e.applyUnitUpserted(data)
	case EventUnitRemoved:
		changed, err = e.applyUnitRemoved(data)
	case EventBookingCreated:
		changed, err = e.applyBookingCreated(data)
	case EventNewTransaction, EventUpdateTransaction:
		changed, err = e.applyTransaction(data)
	case EventOverdueTransaction:
		changed, err = e.applyTransactionOverdue(data)
	default:
		return nil
	}

	if err != nil {
		e.logger.Warn().Err(err).Str("event", event).Msg("event ignored")
		return domain.Validation("realtime.Apply", fmt.Sprintf("%s: %v", event, err))
	}
	metrics.IncRealtimeEvent(event)
	if changed {
		e.notify()
	}
	return nil
}

func (e *Engine) applyStatusChanged(data json.RawMessage) (bool, error) {
	var p UnitStatusChanged
	if err := json.Unmarshal(data, &p); err != nil {
		return false, err
	}
	if !p.Status.Valid() {
		return false, fmt.Errorf("unknown status %q", p.Status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.units[p.ID]
	if !ok {
		return false, nil
	}
	u.Status = p.Status
	e.units[p.ID] = u
	return true, nil
}

func (e *Engine) applyUnitUpserted(data json.RawMessage) (bool, error) {
	id, err := entityID(data)
	if err != nil {
		return false, err
	}
	replaceType := hasField(data, "type")

	e.mu.Lock()
	defer e.mu.Unlock()

	u, exists := e.units[id]
	if exists && replaceType {
		// nested objects are replaced, not merged
		u.Type = models.RentalType{}
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return false, err
	}
	if !exists {
		e.order = append(e.order, id)
	}
	e.units[id] = u
	return true, nil
}

func (e *Engine) applyUnitRemoved(data json.RawMessage) (bool, error) {
	var p UnitRemoved
	if err := json.Unmarshal(data, &p); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.units[p.ID]; !ok {
		return false, nil
	}
	delete(e.units, p.ID)
	delete(e.removed, p.ID)
	e.order = removeID(e.order, p.ID)
	return true, nil
}

func (e *Engine) applyBookingCreated(data json.RawMessage) (bool, error) {
	var p BookingCreated
	if err := json.Unmarshal(data, &p); err != nil {
		return false, err
	}
	booked := p.Range()
	if err := booked.Validate(); err != nil {
		return false, err
	}

	e.mu.Lock()
	hook := e.onBooking
	changed := false
	if _, known := e.units[p.UnitID]; known && e.active != nil && e.active.Overlaps(booked) {
		if _, already := e.removed[p.UnitID]; !already {
			e.removed[p.UnitID] = struct{}{}
			changed = true
		}
	}
	e.mu.Unlock()

	if hook != nil {
		hook(p.UnitID, booked)
	}
	return changed, nil
}

func (e *Engine) applyTransaction(data json.RawMessage) (bool, error) {
	id, err := entityID(data)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tx, exists := e.txs[id]
	if err := json.Unmarshal(data, &tx); err != nil {
		return false, err
	}
	if !exists {
		e.txOrder = append(e.txOrder, id)
	}
	e.txs[id] = tx
	return true, nil
}

func (e *Engine) applyTransactionOverdue(data json.RawMessage) (bool, error) {
	var p TransactionOverdue
	if err := json.Unmarshal(data, &p); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.txs[p.ID]
	if !ok || tx.Status == models.BookingOverdue {
		return false, nil
	}
	tx.Status = models.BookingOverdue
	e.txs[p.ID] = tx
	return true, nil
}

func (e *Engine) handleReconnect() {
	metrics.IncRealtimeReconnect()

	e.mu.Lock()
	rooms := make([]string, 0, len(e.rooms))
	for r := range e.rooms {
		rooms = append(rooms, r)
	}
	resync := e.onResync
	e.mu.Unlock()
	sort.Strings(rooms)

	ctx := context.Background()
	for _, room := range rooms {
		if err := e.transport.JoinRoom(ctx, room); err != nil {
			e.logger.Warn().Err(err).Str("room", room).Msg("rejoin room")
		}
	}
	e.logger.Info().Strs("rooms", rooms).Msg("reconnected")

	if resync != nil {
		resync()
	}
}

func (e *Engine) notify() {
	e.mu.Lock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.listeners[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func removeID(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
