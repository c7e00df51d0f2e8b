// Package pricing computes rental prices from a date/time range, overdue hours and add-ons.
package pricing

import (
	"fmt"
	"sync"
	"time"

	"motorent/internal/domain"
	"motorent/internal/models"
)

const (
	DefaultPenaltyPerHour int64 = 15000
	DefaultAddOnUnitPrice int64 = 5000
	DefaultGraceHours           = 6

	hoursPerDay = 24
)

// Rates are the business constants applied on top of the unit daily rate.
type Rates struct {
	PenaltyPerHour int64 `yaml:"penalty_per_hour" json:"penaltyPerHour"`
	AddOnUnitPrice int64 `yaml:"add_on_unit_price" json:"addOnUnitPrice"`
	GraceHours     int   `yaml:"grace_hours" json:"graceHours"`
}

// DefaultRates returns the rates used when nothing is configured.
func DefaultRates() Rates {
	return Rates{
		PenaltyPerHour: DefaultPenaltyPerHour,
		AddOnUnitPrice: DefaultAddOnUnitPrice,
		GraceHours:     DefaultGraceHours,
	}
}

// Validate checks rates for negative values.
func (r Rates) Validate() error {
	if r.PenaltyPerHour < 0 || r.AddOnUnitPrice < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	if r.GraceHours < 0 || r.GraceHours >= hoursPerDay {
		return fmt.Errorf("grace hours must be within 0..23, got %d", r.GraceHours)
	}
	return nil
}

// Input is everything needed to price one rental.
type Input struct {
	DailyRate int64
	Range     models.DateRange
	Raincoats int
	Helmets   int
}

// InvalidDateRangeError is returned when the end instant precedes the start instant.
type InvalidDateRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidDateRangeError) Error() string {
	return fmt.Sprintf("invalid date range: end %s is before start %s",
		e.End.Format("2006-01-02 15:04"), e.Start.Format("2006-01-02 15:04"))
}

// Unwrap exposes the error as a validation error to domain.As.
func (e *InvalidDateRangeError) Unwrap() error {
	return domain.Validation("pricing.Compute", e.Error())
}

// Calculator prices rentals. Rates can be swapped while in use.
type Calculator struct {
	mu    sync.RWMutex
	rates Rates
}

// NewCalculator creates a calculator. Invalid rates fall back to defaults.
func NewCalculator(rates Rates) *Calculator {
	if err := rates.Validate(); err != nil {
		rates = DefaultRates()
	}
	return &Calculator{rates: rates}
}

// Rates returns the rates currently applied.
func (c *Calculator) Rates() Rates {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rates
}

// SetRates replaces the applied rates.
func (c *Calculator) SetRates(rates Rates) error {
	if err := rates.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.rates = rates
	c.mu.Unlock()
	return nil
}

// Compute returns the itemized price of in.
//
// Elapsed time is floored to whole hours, never below one. Anything shorter than a
// day bills one full day. Leftover hours up to the grace threshold are charged per
// hour; past it they are charged as one extra day at the daily rate.
func (c *Calculator) Compute(in Input) (models.PriceBreakdown, error) {
	const op = "pricing.Compute"

	if in.DailyRate <= 0 {
		return models.PriceBreakdown{}, domain.Validation(op, "daily rate must be positive")
	}
	if in.Raincoats < 0 || in.Helmets < 0 {
		return models.PriceBreakdown{}, domain.Validation(op, "add-on counts must not be negative")
	}

	start, end, err := in.Range.Instants()
	if err != nil {
		return models.PriceBreakdown{}, domain.Validation(op, err.Error())
	}
	if end.Before(start) {
		return models.PriceBreakdown{}, &InvalidDateRangeError{Start: start, End: end}
	}

	rates := c.Rates()

	totalHours := int(end.Sub(start) / time.Hour)
	if totalHours < 1 {
		totalHours = 1
	}

	fullDays := totalHours / hoursPerDay
	extraHours := totalHours % hoursPerDay
	if fullDays == 0 {
		fullDays = 1
		extraHours = 0
	}

	p := models.PriceBreakdown{
		FullDays:   fullDays,
		ExtraHours: extraHours,
		IsOverdue:  extraHours > 0,
		BasePrice:  int64(fullDays) * in.DailyRate,
		Source:     models.PriceSourceLocal,
	}

	switch {
	case extraHours == 0:
	case extraHours <= rates.GraceHours:
		p.HourlyPenalty = int64(extraHours) * rates.PenaltyPerHour
	default:
		p.ExtraDayCharge = in.DailyRate
	}
	p.OverdueSurcharge = p.HourlyPenalty + p.ExtraDayCharge

	p.RaincoatCost = int64(in.Raincoats) * rates.AddOnUnitPrice
	p.HelmetCost = int64(in.Helmets) * rates.AddOnUnitPrice
	p.AddOnCost = p.RaincoatCost + p.HelmetCost

	p.Total = p.BasePrice + p.OverdueSurcharge + p.AddOnCost
	return p, nil
}
