package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-rental/internal/audit"
	"ms-rental/internal/calendar"
	"ms-rental/internal/logger"
	"ms-rental/internal/metrics"
	"ms-rental/internal/models"
	"ms-rental/internal/pricing"
	"ms-rental/internal/reservation/db"

	"github.com/google/uuid"
)

type Store interface {
	OverlapFinder
	InsertReservation(ctx context.Context, res *models.Reservation) error
	GetReservationByID(ctx context.Context, id string) (*models.Reservation, error)
	CompareAndSetStatus(ctx context.Context, id string, expected []models.ReservationStatus, next models.ReservationStatus, upd db.StatusUpdate) error
	FindStale(ctx context.Context, status models.ReservationStatus, olderThan time.Time) ([]models.Reservation, error)
}

type CalendarGateway interface {
	BusyQuerier
	CreateEvent(ctx context.Context, resourceID string, r models.DateRange, info calendar.EventInfo) (string, error)
	DeleteEvent(ctx context.Context, resourceID, eventRef string) error
}

type Catalog interface {
	GetResource(ctx context.Context, id string) (*models.Vehicle, error)
}

type DayLocker interface {
	LockDays(ctx context.Context, resourceID string, r models.DateRange, owner string) (bool, error)
	UnlockDays(ctx context.Context, resourceID string, r models.DateRange, owner string) error
}

type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, ev models.ReservationEvent) error
}

type Policy struct {
	// MaxNights caps the rental span; zero means no cap.
	MaxNights int
	// HoldTTL is how long an unpaid hold lives before the sweeper cancels it.
	HoldTTL time.Duration
}

var DefaultPolicy = Policy{MaxNights: 4, HoldTTL: 20 * time.Minute}

type HoldRequest struct {
	ResourceID string
	UserID     string
	Range      models.DateRange
	Options    []models.Option
}

type PaymentResult struct {
	Status     string
	PaymentRef string
}

type CancelResult struct {
	Reservation     *models.Reservation `json:"reservation,omitempty"`
	AlreadyCanceled bool                `json:"already_canceled"`
	CalendarDeleted bool                `json:"calendar_deleted"`
}

type Service struct {
	store    Store
	calendar CalendarGateway
	catalog  Catalog
	checker  *Checker

	audit   audit.Sink
	locks   DayLocker
	events  EventPublisher
	metrics *metrics.Metrics
	logger  *logger.Logger

	policy     Policy
	crossCheck bool
	now        func() time.Time
	newID      func() string
}

type Option func(*Service)

func WithAudit(sink audit.Sink) Option { return func(s *Service) { s.audit = sink } }
func WithDayLocks(locks DayLocker) Option { return func(s *Service) { s.locks = locks } }
func WithEvents(p EventPublisher) Option { return func(s *Service) { s.events = p } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.logger = l } }
func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDGenerator(newID func() string) Option { return func(s *Service) { s.newID = newID } }
func WithCalendarCrossCheck(enabled bool) Option { return func(s *Service) { s.crossCheck = enabled } }

func NewService(store Store, cal CalendarGateway, cat Catalog, opts ...Option) *Service {
	s := &Service{
		store:    store,
		calendar: cal,
		catalog:  cat,
		policy:   DefaultPolicy,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var busy BusyQuerier
	if s.crossCheck {
		busy = cal
	}
	s.checker = NewChecker(store, busy)
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

// validateRange truncates r to whole UTC days, the unit pricing and the day
// claims both work in, and checks it against the policy.
func (s *Service) validateRange(r models.DateRange) (models.DateRange, error) {
	if r.Start.IsZero() || r.End.IsZero() {
		return models.DateRange{}, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	days, err := models.NewDateRange(r.Start, r.End)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	if s.policy.MaxNights > 0 && days.Nights() > s.policy.MaxNights {
		return models.DateRange{}, fmt.Errorf("%w: %d nights exceeds the maximum of %d", ErrInvalidRange, days.Nights(), s.policy.MaxNights)
	}
	return days, nil
}

func (s *Service) resource(ctx context.Context, resourceID string) (*models.Vehicle, error) {
	v, err := s.catalog.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownResource, err)
	}
	return v, nil
}

func (s *Service) quote(v *models.Vehicle, r models.DateRange, options []models.Option) (models.Quote, error) {
	q, err := pricing.Quote(&v.Rates, r, options)
	switch {
	case errors.Is(err, pricing.ErrUnknownOption):
		return q, fmt.Errorf("%w: %w", ErrUnknownOption, err)
	case errors.Is(err, pricing.ErrInvalidRange):
		return q, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	case err != nil:
		return q, fmt.Errorf("%w: %w", ErrUnknownResource, err)
	}
	return q, nil
}

// Quote prices a prospective rental without touching any state.
func (s *Service) Quote(ctx context.Context, resourceID string, r models.DateRange, options []models.Option) (models.Quote, error) {
	r, err := s.validateRange(r)
	if err != nil {
		return models.Quote{}, err
	}
	v, err := s.resource(ctx, resourceID)
	if err != nil {
		return models.Quote{}, err
	}
	return s.quote(v, r, options)
}

func (s *Service) CheckAvailability(ctx context.Context, resourceID string, r models.DateRange) (*Availability, error) {
	r, err := s.validateRange(r)
	if err != nil {
		return nil, err
	}
	if _, err := s.resource(ctx, resourceID); err != nil {
		return nil, err
	}
	return s.checker.Check(ctx, resourceID, r)
}

func (s *Service) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	res, err := s.store.GetReservationByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return res, err
}

// ---------------- HOLD ----------------

// CreateHold reserves the range for an unpaid hold. The calendar event is
// written first; if the record cannot be stored afterwards the event is deleted
// again, so no failed hold leaves anything behind on either side.
func (s *Service) CreateHold(ctx context.Context, req HoldRequest) (*models.Reservation, error) {
	r, err := s.validateRange(req.Range)
	if err != nil {
		s.metrics.Hold("invalid")
		return nil, err
	}
	v, err := s.resource(ctx, req.ResourceID)
	if err != nil {
		s.metrics.Hold("invalid")
		return nil, err
	}
	quote, err := s.quote(v, r, req.Options)
	if err != nil {
		s.metrics.Hold("invalid")
		return nil, err
	}

	id := s.newID()

	if s.locks != nil {
		ok, err := s.locks.LockDays(ctx, req.ResourceID, r, id)
		if err != nil {
			// The store constraint still guards the insert.
			s.logger.Warn("RESERVATION", fmt.Sprintf("day locks unavailable for %s: %v", req.ResourceID, err))
		} else if !ok {
			s.metrics.Hold("slot_unavailable")
			return nil, &SlotUnavailableError{ResourceID: req.ResourceID, Range: r}
		} else {
			defer func() {
				if err := s.locks.UnlockDays(context.WithoutCancel(ctx), req.ResourceID, r, id); err != nil {
					s.logger.Warn("RESERVATION", fmt.Sprintf("failed to release day locks for %s: %v", id, err))
				}
			}()
		}
	}

	avail, err := s.checker.Check(ctx, req.ResourceID, r)
	if err != nil {
		s.metrics.Hold("error")
		return nil, err
	}
	if !avail.Available {
		s.metrics.Hold("slot_unavailable")
		return nil, &SlotUnavailableError{ResourceID: req.ResourceID, Range: r, Conflicts: avail.Conflicts, Busy: avail.Busy}
	}

	eventRef, err := s.calendar.CreateEvent(ctx, req.ResourceID, r, calendar.EventInfo{
		ReservationID: id,
		Summary:       fmt.Sprintf("%s %s (hold)", v.Name, v.ID),
		Description:   fmt.Sprintf("reservation %s\n%s", id, r),
	})
	s.metrics.CalendarCall("create", err)
	if err != nil {
		s.logger.Error("CALENDAR", fmt.Sprintf("create event for %s failed: %v", id, err))
		s.record(ctx, models.AuditEntry{
			Action:        models.ActionHoldFailed,
			ReservationID: id,
			Details:       map[string]any{"resource_id": req.ResourceID, "stage": "calendar", "error": err.Error()},
		})
		s.metrics.Hold("calendar_failed")
		return nil, fmt.Errorf("%w: %w", ErrCalendarCommitFailed, err)
	}

	res := &models.Reservation{
		ID:               id,
		ResourceID:       req.ResourceID,
		UserID:           req.UserID,
		StartDate:        r.Start,
		EndDate:          r.End,
		Status:           models.StatusHeld,
		PaymentStatus:    models.PaymentUnpaid,
		ExternalEventRef: eventRef,
		Options:          req.Options,
		Pricing:          quote,
		TotalPrice:       quote.Total,
		CreatedAt:        s.now(),
	}

	if err := s.store.InsertReservation(ctx, res); err != nil {
		rollbackErr := s.calendar.DeleteEvent(context.WithoutCancel(ctx), req.ResourceID, eventRef)
		s.metrics.CalendarCall("delete", rollbackErr)
		s.metrics.Compensation(rollbackErr)

		details := map[string]any{"resource_id": req.ResourceID, "event_ref": eventRef, "insert_error": err.Error(), "rolled_back": rollbackErr == nil}
		if rollbackErr != nil {
			details["rollback_error"] = rollbackErr.Error()
			s.logger.Error("RESERVATION", fmt.Sprintf("orphaned calendar event %s for %s: %v", eventRef, req.ResourceID, rollbackErr))
		}
		s.record(ctx, models.AuditEntry{Action: models.ActionCalendarRollback, ReservationID: id, Details: details})

		if errors.Is(err, db.ErrConflict) {
			s.metrics.Hold("conflict_on_insert")
			return nil, fmt.Errorf("%w: %w", ErrConflictOnInsert, err)
		}
		s.metrics.Hold("persist_failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	s.logger.LogReservation("hold", id, fmt.Sprintf("%s %s total=%d", req.ResourceID, r, quote.Total))
	s.metrics.Hold("created")
	s.record(ctx, models.AuditEntry{
		Action:        models.ActionHoldCreated,
		ReservationID: id,
		Details:       map[string]any{"resource_id": req.ResourceID, "start": r.Start.Format(models.DateLayout), "end": r.End.Format(models.DateLayout), "total": quote.Total},
		Reservation:   res,
	})
	s.publish(ctx, models.EventReservationHeld, *res)
	return res, nil
}

// ---------------- CONFIRM ----------------

// ConfirmPayment turns a hold into a confirmed reservation. Only a hold can be
// confirmed: a payment for a canceled or already confirmed reservation is
// reported as ErrAlreadyFinalized, except for a repeat delivery of the payment
// that confirmed it.
func (s *Service) ConfirmPayment(ctx context.Context, reservationID string, result PaymentResult) (*models.Reservation, error) {
	if result.Status != models.PaymentSucceeded {
		s.metrics.Confirmation("not_succeeded")
		return nil, fmt.Errorf("%w: status %q", ErrPaymentNotSucceeded, result.Status)
	}

	res, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		s.metrics.Confirmation("not_found")
		return nil, err
	}
	if res.Status != models.StatusHeld {
		return s.finalizedPayment(ctx, res, result)
	}

	err = s.store.CompareAndSetStatus(ctx, reservationID,
		[]models.ReservationStatus{models.StatusHeld}, models.StatusConfirmed,
		db.StatusUpdate{PaymentStatus: models.PaymentPaid, PaymentRef: result.PaymentRef})
	switch {
	case errors.Is(err, db.ErrStaleState):
		latest, gerr := s.GetReservation(ctx, reservationID)
		if gerr != nil {
			return nil, gerr
		}
		return s.finalizedPayment(ctx, latest, result)
	case errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reservationID)
	case err != nil:
		s.metrics.Confirmation("error")
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	res.Status = models.StatusConfirmed
	res.PaymentStatus = models.PaymentPaid
	res.PaymentRef = result.PaymentRef
	res.UpdatedAt = s.now()

	s.logger.LogReservation("confirm", res.ID, "payment "+result.PaymentRef)
	s.metrics.Confirmation("confirmed")
	s.record(ctx, models.AuditEntry{
		Action:        models.ActionPaymentConfirmed,
		ReservationID: res.ID,
		Details:       map[string]any{"payment_ref": result.PaymentRef},
		Reservation:   res,
	})
	s.publish(ctx, models.EventReservationConfirmed, *res)
	return res, nil
}

func (s *Service) finalizedPayment(ctx context.Context, res *models.Reservation, result PaymentResult) (*models.Reservation, error) {
	if res.Status == models.StatusConfirmed && result.PaymentRef != "" && res.PaymentRef == result.PaymentRef {
		s.metrics.Confirmation("duplicate")
		return res, nil
	}

	s.logger.Warn("RESERVATION", fmt.Sprintf("payment %s arrived for %s reservation %s", result.PaymentRef, res.Status, res.ID))
	s.metrics.Confirmation("already_finalized")
	s.record(ctx, models.AuditEntry{
		Action:        models.ActionPaymentForFinal,
		ReservationID: res.ID,
		Details: map[string]any{
			"status":          string(res.Status),
			"payment_ref":     result.PaymentRef,
			"prior_payment":   res.PaymentRef,
			"needs_reconcile": true,
		},
	})
	return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, res.ID, res.Status)
}

// ---------------- CANCEL ----------------

// Cancel ends a reservation. Canceling twice is a no-op that reports
// AlreadyCanceled. The calendar event is removed first; failing to remove it is
// logged and does not stop the cancellation, the store status is what counts.
// An auto-expire cancel only ever applies to a hold.
func (s *Service) Cancel(ctx context.Context, reservationID string, reason models.CancelReason) (*CancelResult, error) {
	if reason == "" {
		reason = models.ReasonManual
	}

	res, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if res.Status == models.StatusCanceled {
		return s.alreadyCanceled(ctx, res, reason), nil
	}
	if reason == models.ReasonAutoExpire && res.Status != models.StatusHeld {
		s.metrics.Cancellation(string(reason), "stale")
		return nil, fmt.Errorf("%w: %s is %s", ErrStaleState, res.ID, res.Status)
	}

	details := map[string]any{"reason": string(reason), "prior_status": string(res.Status)}
	calendarDeleted := false
	if res.ExternalEventRef != "" {
		derr := s.calendar.DeleteEvent(ctx, res.ResourceID, res.ExternalEventRef)
		s.metrics.CalendarCall("delete", derr)
		if derr != nil {
			s.logger.Error("CALENDAR", fmt.Sprintf("delete event %s for %s failed: %v", res.ExternalEventRef, res.ID, derr))
			details["calendar_error"] = derr.Error()
		} else {
			calendarDeleted = true
		}
	}
	details["calendar_deleted"] = calendarDeleted

	current := res
	for attempt := 0; ; attempt++ {
		upd := db.StatusUpdate{PaymentStatus: models.PaymentExpired, CancelReason: reason}
		if current.PaymentStatus == models.PaymentPaid {
			upd.PaymentStatus = models.PaymentRefunded
		}

		err = s.store.CompareAndSetStatus(ctx, current.ID, []models.ReservationStatus{current.Status}, models.StatusCanceled, upd)
		if err == nil {
			current.Status = models.StatusCanceled
			current.PaymentStatus = upd.PaymentStatus
			current.CancelReason = reason
			current.UpdatedAt = s.now()
			break
		}
		if !errors.Is(err, db.ErrStaleState) {
			details["store_error"] = err.Error()
			s.record(ctx, models.AuditEntry{Action: models.ActionCancelFailed, ReservationID: res.ID, Details: details})
			s.metrics.Cancellation(string(reason), "error")
			if errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, res.ID)
			}
			return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
		}

		latest, gerr := s.GetReservation(ctx, current.ID)
		if gerr != nil {
			return nil, gerr
		}
		if latest.Status == models.StatusCanceled {
			return s.alreadyCanceled(ctx, latest, reason), nil
		}
		// A hold that got paid meanwhile: a manual cancel still applies, an
		// expiry never does.
		if reason == models.ReasonAutoExpire || attempt > 0 {
			details["current_status"] = string(latest.Status)
			if calendarDeleted {
				s.record(ctx, models.AuditEntry{Action: models.ActionCalendarDrift, ReservationID: res.ID, Details: details})
			}
			s.metrics.Cancellation(string(reason), "stale")
			return nil, fmt.Errorf("%w: %s is now %s", ErrStaleState, res.ID, latest.Status)
		}
		current = latest
	}

	details["payment_status"] = string(current.PaymentStatus)
	s.logger.LogReservation("cancel", current.ID, fmt.Sprintf("reason=%s calendar_deleted=%t", reason, calendarDeleted))
	s.metrics.Cancellation(string(reason), "canceled")
	s.record(ctx, models.AuditEntry{Action: models.ActionCancel, ReservationID: current.ID, Details: details, Reservation: current})
	s.publish(ctx, models.EventReservationCanceled, *current)

	return &CancelResult{Reservation: current, CalendarDeleted: calendarDeleted}, nil
}

func (s *Service) alreadyCanceled(ctx context.Context, res *models.Reservation, reason models.CancelReason) *CancelResult {
	s.metrics.Cancellation(string(reason), "already_canceled")
	s.record(ctx, models.AuditEntry{
		Action:        models.ActionCancelSkipped,
		ReservationID: res.ID,
		Details:       map[string]any{"reason": string(reason)},
	})
	return &CancelResult{Reservation: res, AlreadyCanceled: true}
}

// ---------------- SIDE CHANNELS ----------------

// record writes an audit entry. Audit failures are logged and never reach the caller.
func (s *Service) record(ctx context.Context, entry models.AuditEntry) {
	if s.audit == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("AUDIT", fmt.Sprintf("audit sink panicked on %s: %v", entry.Action, r))
		}
	}()
	if err := s.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("AUDIT", fmt.Sprintf("failed to record %s for %s: %v", entry.Action, entry.ReservationID, err))
	}
}

func (s *Service) publish(ctx context.Context, t models.ReservationEventType, res models.Reservation) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishReservationEvent(context.WithoutCancel(ctx), models.NewReservationEvent(t, res, s.now())); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish %s for %s failed: %v", t, res.ID, err))
	}
}
