// Package realtime keeps locally held units and transactions consistent with
// server state by applying events pushed over a room-scoped channel.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"motorent/internal/models"
)

// Inbound event names.
const (
	EventUnitStatusChanged  = "unit-status-changed"
	EventUnitUpserted       = "unit-upserted"
	EventUnitRemoved        = "unit-removed"
	EventBookingCreated     = "booking-created"
	EventNewTransaction     = "new-transaction"
	EventUpdateTransaction  = "update-transaction"
	EventOverdueTransaction = "overdue-transaction"
)

// Control events sent to the server.
const (
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"
)

// Well-known rooms.
const (
	RoomAvailability = "availability"
	RoomMotorcycles  = "motorcycles"

	unitRoomPrefix = "motorcycle-"
)

// UnitEvents lists the events that patch the unit list.
var UnitEvents = []string{EventUnitStatusChanged, EventUnitUpserted, EventUnitRemoved, EventBookingCreated}

// TransactionEvents lists the booking lifecycle events.
var TransactionEvents = []string{EventNewTransaction, EventUpdateTransaction, EventOverdueTransaction}

// UnitRoom returns the room of a single motorcycle.
func UnitRoom(unitID int64) string {
	return fmt.Sprintf("%s%d", unitRoomPrefix, unitID)
}

// IsUnitRoom reports whether room is a single motorcycle room.
func IsUnitRoom(room string) bool {
	return strings.HasPrefix(room, unitRoomPrefix)
}

// Message is the wire envelope of every event.
type Message struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UnitStatusChanged is the payload of unit-status-changed.
type UnitStatusChanged struct {
	ID     int64             `json:"id"`
	Status models.UnitStatus `json:"status"`
}

// UnitRemoved is the payload of unit-removed.
type UnitRemoved struct {
	ID int64 `json:"id"`
}

// BookingCreated is the payload of booking-created. The range is accepted either
// nested under dateRange or as flat fields.
type BookingCreated struct {
	UnitID    int64             `json:"unitId"`
	DateRange *models.DateRange `json:"dateRange,omitempty"`
	StartDate string            `json:"startDate,omitempty"`
	EndDate   string            `json:"endDate,omitempty"`
	StartTime string            `json:"startTime,omitempty"`
	EndTime   string            `json:"endTime,omitempty"`
}

// Range returns the booked range.
func (b BookingCreated) Range() models.DateRange {
	if b.DateRange != nil {
		return *b.DateRange
	}
	return models.DateRange{StartDate: b.StartDate, EndDate: b.EndDate, StartTime: b.StartTime, EndTime: b.EndTime}
}

// TransactionOverdue is the payload of overdue-transaction.
type TransactionOverdue struct {
	ID int64 `json:"id"`
}

type idOnly struct {
	ID *int64 `json:"id"`
}

// entityID extracts the id of a raw entity payload.
func entityID(data json.RawMessage) (int64, error) {
	var v idOnly
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	if v.ID == nil {
		return 0, fmt.Errorf("payload has no id")
	}
	return *v.ID, nil
}

// hasField reports whether the JSON object in data carries key.
func hasField(data json.RawMessage, key string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, ok := fields[key]
	return ok
}
