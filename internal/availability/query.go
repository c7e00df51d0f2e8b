// Package availability memoizes date-range availability lookups.
package availability

import (
	"fmt"
	"net/url"
	"strconv"

	"motorent/internal/models"
)

// Query selects the units free for a date range, optionally filtered by type.
type Query struct {
	StartDate string
	EndDate   string
	StartTime string
	EndTime   string
	TypeID    int64
}

// QueryFor builds a query for a range and an optional type filter (0 means any).
func QueryFor(r models.DateRange, typeID int64) Query {
	return Query{
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		TypeID:    typeID,
	}
}

// Range returns the date range of the query.
func (q Query) Range() models.DateRange {
	return models.DateRange{StartDate: q.StartDate, EndDate: q.EndDate, StartTime: q.StartTime, EndTime: q.EndTime}
}

// Validate checks the date range of the query.
func (q Query) Validate() error {
	if err := q.Range().Validate(); err != nil {
		return err
	}
	if q.TypeID < 0 {
		return fmt.Errorf("typeId must not be negative")
	}
	return nil
}

// Values returns the non-empty fields as request parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("startDate", q.StartDate)
	v.Set("endDate", q.EndDate)
	if q.StartTime != "" {
		v.Set("startTime", q.StartTime)
	}
	if q.EndTime != "" {
		v.Set("endTime", q.EndTime)
	}
	if q.TypeID > 0 {
		v.Set("typeId", strconv.FormatInt(q.TypeID, 10))
	}
	return v
}

// Key is the canonical form of the query. Fields are sorted by name, so
// equivalent queries always produce the same key.
func (q Query) Key() string {
	return q.Values().Encode()
}

// ParseKey reverses Key.
func ParseKey(key string) (Query, error) {
	v, err := url.ParseQuery(key)
	if err != nil {
		return Query{}, fmt.Errorf("parse availability key: %w", err)
	}
	q := Query{
		StartDate: v.Get("startDate"),
		EndDate:   v.Get("endDate"),
		StartTime: v.Get("startTime"),
		EndTime:   v.Get("endTime"),
	}
	if s := v.Get("typeId"); s != "" {
		q.TypeID, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Query{}, fmt.Errorf("parse availability key: bad typeId %q", s)
		}
	}
	return q, nil
}
