package models

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used on the wire and in the catalog.
const DateLayout = "2006-01-02"

var ErrEndBeforeStart = errors.New("end date is before start date")

// DateRange is an inclusive range of whole days. Start == End is a same-day rental.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDateRange normalizes both ends to whole days and rejects end < start.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrEndBeforeStart, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return r, nil
}

// ParseDateRange parses two YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	return NewDateRange(s, e)
}

// Nights is the number of whole days between start and end. Zero for same-day.
func (r DateRange) Nights() int {
	return int(Day(r.End).Sub(Day(r.Start)).Hours() / 24)
}

// Overlaps reports whether two inclusive ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.Start.After(o.End) && !o.Start.After(r.End)
}

// Days lists every day in the range, start and end included.
func (r DateRange) Days() []time.Time {
	days := make([]time.Time, 0, r.Nights()+1)
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// ExclusiveEnd is the day after End, for providers that model all-day spans half-open.
func (r DateRange) ExclusiveEnd() time.Time {
	return r.End.AddDate(0, 0, 1)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}
