package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-rental/internal/models"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsLedger appends one spreadsheet row per booking event, for staff who
// work from the shared sheet rather than the database.
type SheetsLedger struct {
	svc           *sheets.Service
	spreadsheetID string
	writeRange    string
	loc           *time.Location
	timeout       time.Duration
}

func NewSheetsLedger(ctx context.Context, spreadsheetID, writeRange, timeZone string, timeout time.Duration, opts ...option.ClientOption) (*SheetsLedger, error) {
	if spreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("sheets: time zone %q: %w", timeZone, err)
	}
	opts = append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SheetsLedger{svc: svc, spreadsheetID: spreadsheetID, writeRange: writeRange, loc: loc, timeout: timeout}, nil
}

// Row layout: id, user, vehicle, event id, start, end, plan, status, timestamp.
func (s *SheetsLedger) row(entry models.AuditEntry) []interface{} {
	r := entry.Reservation
	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return []interface{}{
		r.ID,
		r.UserID,
		r.ResourceID,
		r.ExternalEventRef,
		r.StartDate.Format(models.DateLayout),
		r.EndDate.Format(models.DateLayout),
		r.Pricing.Tier,
		string(r.Status),
		ts.In(s.loc).Format("2006-01-02 15:04:05"),
	}
}

func (s *SheetsLedger) Record(ctx context.Context, entry models.AuditEntry) error {
	if entry.Reservation == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vr := &sheets.ValueRange{Values: [][]interface{}{s.row(entry)}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.writeRange, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: append row for %s: %w", entry.Reservation.ID, err)
	}
	return nil
}
