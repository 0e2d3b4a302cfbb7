package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Audit actions written to system_logs.
const (
	ActionHoldCreated        = "hold-created"
	ActionHoldFailed         = "hold-create-failed"
	ActionCalendarRollback   = "calendar-rollback"
	ActionPaymentConfirmed   = "payment-confirmed"
	ActionPaymentForFinal    = "payment-for-finalized-reservation"
	ActionCancel             = "cancel"
	ActionCancelFailed       = "cancel-failed"
	ActionCancelSkipped      = "cancel-skipped"
	ActionCalendarDrift      = "calendar-drift"
	ActionAutoCancelCheck    = "auto-cancel-check"
	ActionAutoCancelFinished = "auto-cancel-finish"
)

type AuditEntry struct {
	bun.BaseModel `bun:"table:system_logs,alias:sl"`

	ID            int64          `bun:"id,pk,autoincrement" json:"id"`
	Action        string         `bun:"action,notnull" json:"action"`
	ReservationID string         `bun:"reservation_id,nullzero" json:"reservation_id,omitempty"`
	Details       map[string]any `bun:"details" json:"details,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`

	// Reservation is the record the entry is about, when there is one. Sinks that
	// need more than Details (the booking ledger) read it; it is never persisted.
	Reservation *Reservation `bun:"-" json:"-"`
}
