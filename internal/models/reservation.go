package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	StatusHeld      ReservationStatus = "held"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCanceled  ReservationStatus = "canceled"
)

// ActiveStatuses are the statuses that block a resource's days.
var ActiveStatuses = []ReservationStatus{StatusHeld, StatusConfirmed}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentExpired  PaymentStatus = "expired"
)

type CancelReason string

const (
	ReasonManual     CancelReason = "manual-cancel"
	ReasonAutoExpire CancelReason = "auto-expire"
)

type Option string

const (
	OptionChildSeat Option = "child_seat"
	OptionInsurance Option = "insurance"
)

// KnownOptions in the order they are itemized on a quote.
var KnownOptions = []Option{OptionChildSeat, OptionInsurance}

type Reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID               string            `bun:"id,pk" json:"id"`
	ResourceID       string            `bun:"resource_id,notnull" json:"resource_id"`
	UserID           string            `bun:"user_id,nullzero" json:"user_id,omitempty"`
	StartDate        time.Time         `bun:"start_date,type:date,notnull" json:"start_date"`
	EndDate          time.Time         `bun:"end_date,type:date,notnull" json:"end_date"`
	Status           ReservationStatus `bun:"status,notnull" json:"status"`
	PaymentStatus    PaymentStatus     `bun:"payment_status,notnull" json:"payment_status"`
	PaymentRef       string            `bun:"payment_ref,nullzero" json:"payment_ref,omitempty"`
	CancelReason     CancelReason      `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	ExternalEventRef string            `bun:"external_event_ref,nullzero" json:"external_event_ref,omitempty"`
	Options          []Option          `bun:"options" json:"options"`
	Pricing          Quote             `bun:"pricing_snapshot" json:"pricing"`
	TotalPrice       int64             `bun:"total_price,notnull" json:"total_price"`
	CreatedAt        time.Time         `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time         `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

func (r Reservation) Range() DateRange {
	return DateRange{Start: Day(r.StartDate), End: Day(r.EndDate)}
}

func (r Reservation) IsActive() bool {
	return r.Status == StatusHeld || r.Status == StatusConfirmed
}

// ReservationDay claims one day of a resource. The (resource_id, day) primary key
// is what makes two active reservations on the same day impossible.
type ReservationDay struct {
	bun.BaseModel `bun:"table:reservation_days,alias:rd"`

	ResourceID    string    `bun:"resource_id,pk"`
	Day           time.Time `bun:"day,pk,type:date"`
	ReservationID string    `bun:"reservation_id,notnull"`
}

type ReservationRequest struct {
	ResourceID string   `json:"resource_id"`
	UserID     string   `json:"user_id"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	Options    []Option `json:"options"`
}

type PaymentConfirmation struct {
	ReservationID string `json:"reservation_id"`
	PaymentStatus string `json:"payment_status"`
	PaymentID     string `json:"payment_id"`
}

// PaymentSucceeded is the only provider result that confirms a hold.
const PaymentSucceeded = "succeeded"
