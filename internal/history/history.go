// Package history looks up a customer's past bookings by phone number and
// exports them to a spreadsheet.
package history

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"motorent/internal/domain"
	"motorent/internal/models"
)

// Source returns the bookings made with a phone number.
type Source interface {
	History(ctx context.Context, phone string) ([]models.Booking, error)
}

// Summary aggregates a booking history.
type Summary struct {
	Bookings   int
	TotalSpent int64
	ByStatus   map[models.BookingStatus]int
}

// Service wraps a Source with phone normalization and ordering.
type Service struct {
	source Source
	logger zerolog.Logger
}

// NewService creates a history service.
func NewService(source Source, logger zerolog.Logger) *Service {
	return &Service{
		source: source,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Lookup returns the bookings for phone, newest rental first.
func (s *Service) Lookup(ctx context.Context, phone string) ([]models.Booking, error) {
	const op = "history.Lookup"

	normalized, ok := models.NormalizePhone(phone)
	if !ok {
		return nil, domain.Validation(op, "invalid phone number")
	}

	bookings, err := s.source.History(ctx, normalized)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(bookings, func(i, j int) bool {
		if bookings[i].StartDate != bookings[j].StartDate {
			return bookings[i].StartDate > bookings[j].StartDate
		}
		return bookings[i].ID > bookings[j].ID
	})

	s.logger.Debug().Int("count", len(bookings)).Msg("history loaded")
	return bookings, nil
}

// Summarize counts bookings per status. Cancelled bookings do not add to TotalSpent.
func Summarize(bookings []models.Booking) Summary {
	sum := Summary{ByStatus: make(map[models.BookingStatus]int)}
	for _, b := range bookings {
		sum.Bookings++
		sum.ByStatus[b.Status]++
		if b.Status != models.BookingCancelled {
			sum.TotalSpent += b.TotalPrice
		}
	}
	return sum
}
