package models

import "time"

type ReservationEventType string

const (
	EventReservationHeld      ReservationEventType = "reservation.held"
	EventReservationConfirmed ReservationEventType = "reservation.confirmed"
	EventReservationCanceled  ReservationEventType = "reservation.canceled"
)

// ReservationEvent is published to Kafka on every lifecycle transition.
type ReservationEvent struct {
	Type          ReservationEventType `json:"type"`
	ReservationID string               `json:"reservation_id"`
	ResourceID    string               `json:"resource_id"`
	UserID        string               `json:"user_id,omitempty"`
	StartDate     string               `json:"start_date"`
	EndDate       string               `json:"end_date"`
	Status        ReservationStatus    `json:"status"`
	PaymentStatus PaymentStatus        `json:"payment_status"`
	CancelReason  CancelReason         `json:"cancel_reason,omitempty"`
	TotalPrice    int64                `json:"total_price"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func NewReservationEvent(t ReservationEventType, r Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          t,
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		UserID:        r.UserID,
		StartDate:     r.StartDate.Format(DateLayout),
		EndDate:       r.EndDate.Format(DateLayout),
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		CancelReason:  r.CancelReason,
		TotalPrice:    r.TotalPrice,
		OccurredAt:    at,
	}
}
