package models

import "time"

// Customer is the personal information collected in the first booking step.
type Customer struct {
	Name     string `json:"customerName"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	IDNumber string `json:"idNumber"`
	Email    string `json:"email,omitempty"`
}

// BookingStatus mirrors the backend transaction lifecycle.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingActive    BookingStatus = "ACTIVE"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingOverdue   BookingStatus = "OVERDUE"
)

// Booking is a created booking or a booking history entry.
type Booking struct {
	ID            int64         `json:"id"`
	CustomerName  string        `json:"customerName"`
	Phone         string        `json:"phone"`
	UnitID        int64         `json:"unitId"`
	Unit          *RentalUnit   `json:"unit,omitempty"`
	StartDate     string        `json:"startDate"`
	EndDate       string        `json:"endDate"`
	StartTime     string        `json:"startTime,omitempty"`
	EndTime       string        `json:"endTime,omitempty"`
	RaincoatCount int           `json:"raincoatCount"`
	HelmetCount   int           `json:"helmetCount"`
	TotalPrice    int64         `json:"totalPrice"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Range returns the booked period.
func (b *Booking) Range() DateRange {
	return DateRange{StartDate: b.StartDate, EndDate: b.EndDate, StartTime: b.StartTime, EndTime: b.EndTime}
}

// OverlapsWith checks if two bookings share a calendar date.
func (b *Booking) OverlapsWith(other *Booking) bool {
	return b.Range().Overlaps(other.Range())
}

// Transaction is the dashboard view of a booking lifecycle, patched by real-time events.
type Transaction struct {
	ID           int64         `json:"id"`
	UnitID       int64         `json:"unitId"`
	CustomerName string        `json:"customerName"`
	Status       BookingStatus `json:"status"`
	StartDate    string        `json:"startDate"`
	EndDate      string        `json:"endDate"`
	TotalPrice   int64         `json:"totalPrice"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}
