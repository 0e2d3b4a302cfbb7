package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ms-rental/internal/database/migrations"
	"ms-rental/internal/logger"
	"ms-rental/internal/models"
	"ms-rental/internal/reservation/db"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// TestPostgresIntegration runs the store against a real Postgres schema built
// by the migrations.
func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "rental",
				"POSTGRES_PASSWORD": "rental",
				"POSTGRES_DB":       "rental",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer pgContainer.Terminate(ctx)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://rental:rental@%s:%s/rental?sslmode=disable", host, port.Port())
	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), logger.NewDiscard())
	require.NoError(t, runner.RunMigrations())
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	store := &db.DB{Bun: bunDB}

	first := newHeld(t, "car01", "2025-06-01", "2025-06-03")
	require.NoError(t, store.InsertReservation(ctx, first))

	overlapping := newHeld(t, "car01", "2025-06-03", "2025-06-04")
	err = store.InsertReservation(ctx, overlapping)
	assert.ErrorIs(t, err, db.ErrConflict)

	_, err = store.GetReservationByID(ctx, overlapping.ID)
	assert.ErrorIs(t, err, db.ErrNotFound, "failed insert leaves no row behind")

	got, err := store.GetReservationByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), got.Pricing.Total)
	assert.Equal(t, []models.Option{models.OptionChildSeat}, got.Options)

	require.NoError(t, store.CompareAndSetStatus(ctx, first.ID,
		[]models.ReservationStatus{models.StatusHeld}, models.StatusCanceled,
		db.StatusUpdate{PaymentStatus: models.PaymentExpired, CancelReason: models.ReasonAutoExpire}))
	require.NoError(t, store.InsertReservation(ctx, overlapping), "canceling frees the days")
}
