package models

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// DateRange is a rental period. Dates are calendar dates; times are optional
// time-of-day values used for duration and overdue computation.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// NewDateRange builds a range from two instants, keeping minute precision.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{
		StartDate: start.Format(DateLayout),
		EndDate:   end.Format(DateLayout),
		StartTime: start.Format(TimeLayout),
		EndTime:   end.Format(TimeLayout),
	}
}

// Dates parses the calendar dates of the range.
func (r DateRange) Dates() (start, end time.Time, err error) {
	if r.StartDate == "" || r.EndDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("startDate and endDate are required")
	}
	start, err = time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid startDate format; expected YYYY-MM-DD")
	}
	end, err = time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid endDate format; expected YYYY-MM-DD")
	}
	return start, end, nil
}

// Instants combines dates and times into start and end instants (UTC).
// When both dates are equal and the end time is earlier than the start time,
// the end instant rolls over into the next day.
func (r DateRange) Instants() (start, end time.Time, err error) {
	startDate, endDate, err := r.Dates()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	startOffset, err := parseClock(r.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid startTime: %w", err)
	}
	endOffset, err := parseClock(r.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid endTime: %w", err)
	}

	start = startDate.Add(startOffset)
	end = endDate.Add(endOffset)
	if startDate.Equal(endDate) && endOffset < startOffset {
		end = end.Add(24 * time.Hour)
	}
	return start, end, nil
}

// Validate checks formats and that the end date is not before the start date.
func (r DateRange) Validate() error {
	start, end, err := r.Dates()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("startDate must be before or equal to endDate")
	}
	if _, err := parseClock(r.StartTime); err != nil {
		return fmt.Errorf("invalid startTime: %w", err)
	}
	if _, err := parseClock(r.EndTime); err != nil {
		return fmt.Errorf("invalid endTime: %w", err)
	}
	return nil
}

// Overlaps reports whether two ranges share at least one calendar date.
// Boundaries are inclusive, as for date-based bookings. Unparseable ranges never overlap.
func (r DateRange) Overlaps(other DateRange) bool {
	thisStart, thisEnd, err := r.Dates()
	if err != nil {
		return false
	}
	otherStart, otherEnd, err := other.Dates()
	if err != nil {
		return false
	}
	return !thisEnd.Before(otherStart) && !otherEnd.Before(thisStart)
}

// ContainsDate checks if the range covers the given calendar date.
func (r DateRange) ContainsDate(date time.Time) bool {
	start, end, err := r.Dates()
	if err != nil {
		return false
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(start) && !day.After(end)
}

func (r DateRange) String() string {
	s := r.StartDate
	if r.StartTime != "" {
		s += " " + r.StartTime
	}
	s += " - " + r.EndDate
	if r.EndTime != "" {
		s += " " + r.EndTime
	}
	return s
}

// parseClock parses "HH:MM" into an offset from midnight. Empty means midnight.
func parseClock(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
