package reservation

import (
	"errors"
	"fmt"

	"ms-rental/internal/calendar"
	"ms-rental/internal/models"
)

var (
	ErrInvalidRange        = errors.New("invalid date range")
	ErrUnknownResource     = errors.New("unknown resource")
	ErrUnknownOption       = errors.New("unknown option")
	ErrPaymentNotSucceeded = errors.New("payment did not succeed")

	ErrSlotUnavailable  = errors.New("requested dates are not available")
	ErrConflictOnInsert = errors.New("requested dates were taken concurrently")

	ErrCalendarCommitFailed = errors.New("calendar event could not be created")
	ErrPersistFailed        = errors.New("reservation could not be saved")

	ErrAlreadyFinalized = errors.New("reservation is already finalized")
	ErrStaleState       = errors.New("reservation changed concurrently")
	ErrNotFound         = errors.New("reservation not found")
)

// SlotUnavailableError carries what blocked the requested range.
type SlotUnavailableError struct {
	ResourceID string
	Range      models.DateRange
	Conflicts  []models.Reservation
	Busy       []calendar.BusyPeriod
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s %s (%d reservations, %d busy periods)",
		ErrSlotUnavailable, e.ResourceID, e.Range, len(e.Conflicts), len(e.Busy))
}

func (e *SlotUnavailableError) Is(target error) bool {
	return target == ErrSlotUnavailable
}
