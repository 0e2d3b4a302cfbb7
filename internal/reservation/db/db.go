package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-rental/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// StatusUpdate carries the fields that change together with a status transition.
// Empty fields are left as they are.
type StatusUpdate struct {
	PaymentStatus models.PaymentStatus
	PaymentRef    string
	CancelReason  models.CancelReason
}

// CreateSchema creates the tables the store needs. Used by tests and local
// sqlite runs; Postgres deployments use the SQL migrations.
func CreateSchema(ctx context.Context, bunDB *bun.DB) error {
	for _, model := range []interface{}{
		(*models.Reservation)(nil),
		(*models.ReservationDay)(nil),
		(*models.AuditEntry)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// InsertReservation writes the reservation and claims each of its days for the
// resource in one transaction. A day already claimed fails the whole insert with
// ErrConflict.
func (d *DB) InsertReservation(ctx context.Context, res *models.Reservation) error {
	res.StartDate = models.Day(res.StartDate)
	res.EndDate = models.Day(res.EndDate)
	res.CreatedAt = res.CreatedAt.UTC()

	days := res.Range().Days()
	claims := make([]models.ReservationDay, 0, len(days))
	for _, day := range days {
		claims = append(claims, models.ReservationDay{
			ResourceID:    res.ResourceID,
			Day:           day,
			ReservationID: res.ID,
		})
	}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(res).Exec(ctx); err != nil {
			return err
		}
		if !res.IsActive() {
			return nil
		}
		_, err := tx.NewInsert().Model(&claims).Exec(ctx)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// GetReservationByID → fetch one reservation by its ID
func (d *DB) GetReservationByID(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	err := d.Bun.NewSelect().
		Model(&res).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CompareAndSetStatus moves a reservation to next only if its current status is
// one of expected. Moving to canceled releases the reservation's day claims in
// the same transaction.
func (d *DB) CompareAndSetStatus(ctx context.Context, id string, expected []models.ReservationStatus, next models.ReservationStatus, upd StatusUpdate) error {
	if len(expected) == 0 {
		return errors.New("compare-and-set needs at least one expected status")
	}

	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*models.Reservation)(nil)).
			Set("status = ?", next).
			Set("updated_at = ?", time.Now().UTC())
		if upd.PaymentStatus != "" {
			q = q.Set("payment_status = ?", upd.PaymentStatus)
		}
		if upd.PaymentRef != "" {
			q = q.Set("payment_ref = ?", upd.PaymentRef)
		}
		if upd.CancelReason != "" {
			q = q.Set("cancel_reason = ?", upd.CancelReason)
		}

		result, err := q.
			Where("id = ?", id).
			Where("status IN (?)", bun.In(expected)).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			exists, err := tx.NewSelect().
				Model((*models.Reservation)(nil)).
				Where("id = ?", id).
				Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrStaleState
		}

		if next == models.StatusCanceled {
			_, err = tx.NewDelete().
				Model((*models.ReservationDay)(nil)).
				Where("reservation_id = ?", id).
				Exec(ctx)
			return err
		}
		return nil
	})
}

// FindOverlapping → reservations on resourceID in one of statuses whose inclusive
// range shares at least one day with r.
func (d *DB) FindOverlapping(ctx context.Context, resourceID string, r models.DateRange, statuses []models.ReservationStatus) ([]models.Reservation, error) {
	var out []models.Reservation
	err := d.Bun.NewSelect().
		Model(&out).
		Where("resource_id = ?", resourceID).
		Where("status IN (?)", bun.In(statuses)).
		Where("start_date <= ?", models.Day(r.End)).
		Where("end_date >= ?", models.Day(r.Start)).
		Order("start_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindStale → reservations in status created strictly before olderThan, oldest first.
func (d *DB) FindStale(ctx context.Context, status models.ReservationStatus, olderThan time.Time) ([]models.Reservation, error) {
	var out []models.Reservation
	err := d.Bun.NewSelect().
		Model(&out).
		Where("status = ?", status).
		Where("created_at < ?", olderThan.UTC()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}
