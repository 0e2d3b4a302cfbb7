package reservation

import (
	"context"
	"fmt"

	"ms-rental/internal/calendar"
	"ms-rental/internal/models"
)

type OverlapFinder interface {
	FindOverlapping(ctx context.Context, resourceID string, r models.DateRange, statuses []models.ReservationStatus) ([]models.Reservation, error)
}

type BusyQuerier interface {
	QueryBusy(ctx context.Context, resourceID string, r models.DateRange) ([]calendar.BusyPeriod, error)
}

type Availability struct {
	ResourceID string                `json:"resource_id"`
	Range      models.DateRange      `json:"range"`
	Available  bool                  `json:"available"`
	Conflicts  []models.Reservation  `json:"conflicts,omitempty"`
	Busy       []calendar.BusyPeriod `json:"busy,omitempty"`
}

// Checker answers whether a range is free. The store is authoritative; the
// calendar is consulted too when busy is set, and any busy period counts as a
// conflict even without a matching record.
type Checker struct {
	store OverlapFinder
	busy  BusyQuerier
}

func NewChecker(store OverlapFinder, busy BusyQuerier) *Checker {
	return &Checker{store: store, busy: busy}
}

func (c *Checker) Check(ctx context.Context, resourceID string, r models.DateRange) (*Availability, error) {
	conflicts, err := c.store.FindOverlapping(ctx, resourceID, r, models.ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("overlap query for %s: %w", resourceID, err)
	}

	a := &Availability{ResourceID: resourceID, Range: r, Conflicts: conflicts}

	if c.busy != nil && len(conflicts) == 0 {
		periods, err := c.busy.QueryBusy(ctx, resourceID, r)
		if err != nil {
			return nil, fmt.Errorf("busy query for %s: %w", resourceID, err)
		}
		a.Busy = overlappingBusy(periods, r)
	}

	a.Available = len(a.Conflicts) == 0 && len(a.Busy) == 0
	return a, nil
}

// overlappingBusy keeps periods that intersect [r.Start, r.End+1day).
func overlappingBusy(periods []calendar.BusyPeriod, r models.DateRange) []calendar.BusyPeriod {
	from, to := r.Start, r.ExclusiveEnd()
	var out []calendar.BusyPeriod
	for _, p := range periods {
		if p.Start.Before(to) && p.End.After(from) {
			out = append(out, p)
		}
	}
	return out
}
