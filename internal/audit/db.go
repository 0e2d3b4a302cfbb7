package audit

import (
	"context"
	"time"

	"ms-rental/internal/models"

	"github.com/uptrace/bun"
)

// DBSink appends entries to the system_logs table.
type DBSink struct {
	Bun *bun.DB
}

func (d *DBSink) Record(ctx context.Context, entry models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := d.Bun.NewInsert().Model(&entry).Exec(ctx)
	return err
}

// ListRecent → newest entries first, optionally only for one reservation.
func (d *DBSink) ListRecent(ctx context.Context, reservationID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entries []models.AuditEntry
	q := d.Bun.NewSelect().
		Model(&entries).
		Order("created_at DESC", "id DESC").
		Limit(limit)
	if reservationID != "" {
		q = q.Where("reservation_id = ?", reservationID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}
