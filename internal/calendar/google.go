// Package calendar mirrors reservations onto Google Calendar, one calendar per
// vehicle. Bookings are all-day events.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-rental/internal/logger"
	"ms-rental/internal/models"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var ErrNoCalendar = errors.New("no calendar configured for resource")

// Resolver maps a resource to its calendar id.
type Resolver interface {
	CalendarID(resourceID string) (string, bool)
}

type BusyPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type EventInfo struct {
	ReservationID string
	Summary       string
	Description   string
}

type Google struct {
	svc       *gcal.Service
	calendars Resolver
	timeout   time.Duration
	logger    *logger.Logger
}

// NewGoogle builds the gateway. Every call is bounded by timeout.
func NewGoogle(ctx context.Context, calendars Resolver, timeout time.Duration, log *logger.Logger, opts ...option.ClientOption) (*Google, error) {
	opts = append([]option.ClientOption{option.WithScopes(gcal.CalendarScope)}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Google{svc: svc, calendars: calendars, timeout: timeout, logger: log}, nil
}

func (g *Google) calendarFor(resourceID string) (string, error) {
	id, ok := g.calendars.CalendarID(resourceID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoCalendar, resourceID)
	}
	return id, nil
}

// CreateEvent books r as an all-day event. Google treats the end date of an
// all-day event as exclusive, so the day after r.End is sent.
func (g *Google) CreateEvent(ctx context.Context, resourceID string, r models.DateRange, info EventInfo) (string, error) {
	calID, err := g.calendarFor(resourceID)
	if err != nil {
		return "", err
	}

	ev := &gcal.Event{
		Summary:      info.Summary,
		Description:  info.Description,
		Start:        &gcal.EventDateTime{Date: r.Start.Format(models.DateLayout)},
		End:          &gcal.EventDateTime{Date: r.ExclusiveEnd().Format(models.DateLayout)},
		Transparency: "opaque",
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{"reservation_id": info.ReservationID},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	created, err := g.svc.Events.Insert(calID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event for %s: %w", resourceID, err)
	}
	g.logger.LogCalendar("create", resourceID, fmt.Sprintf("event %s for %s", created.Id, r))
	return created.Id, nil
}

// DeleteEvent removes an event. An event that is already gone counts as deleted.
func (g *Google) DeleteEvent(ctx context.Context, resourceID, eventRef string) error {
	calID, err := g.calendarFor(resourceID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err = g.svc.Events.Delete(calID, eventRef).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		g.logger.Warn("CALENDAR", fmt.Sprintf("event %s on %s already deleted", eventRef, resourceID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("calendar: delete event %s for %s: %w", eventRef, resourceID, err)
	}
	g.logger.LogCalendar("delete", resourceID, "event "+eventRef)
	return nil
}

// QueryBusy returns the busy periods on the resource's calendar between the
// start of r.Start and the start of the day after r.End.
func (g *Google) QueryBusy(ctx context.Context, resourceID string, r models.DateRange) ([]BusyPeriod, error) {
	calID, err := g.calendarFor(resourceID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: r.Start.Format(time.RFC3339),
		TimeMax: r.ExclusiveEnd().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy for %s: %w", resourceID, err)
	}

	cal, ok := resp.Calendars[calID]
	if !ok {
		return nil, fmt.Errorf("calendar: freebusy response missing %s", calID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy for %s: %s", resourceID, cal.Errors[0].Reason)
	}

	out := make([]BusyPeriod, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: bad busy start %q: %w", p.Start, err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: bad busy end %q: %w", p.End, err)
		}
		out = append(out, BusyPeriod{Start: start, End: end})
	}
	return out, nil
}
