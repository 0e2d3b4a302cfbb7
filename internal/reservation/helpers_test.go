package reservation_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-rental/internal/calendar"
	"ms-rental/internal/catalog"
	"ms-rental/internal/models"
	"ms-rental/internal/reservation"
	"ms-rental/internal/reservation/db"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var t0 = time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	rates := models.RateTable{
		SameDay:     5000,
		OneNight:    6000,
		TwoNights:   8000,
		ThreeNights: 11000,
		FourPlus:    13000,
		ChildSeat:   590,
		Insurance:   1100,
	}
	cat, err := catalog.New([]models.Vehicle{
		{ID: "R1", Name: "Compact", CalendarID: "r1@group.calendar.google.com", Rates: rates},
		{ID: "R2", Name: "Minivan", CalendarID: "r2@group.calendar.google.com", Rates: rates},
	})
	require.NoError(t, err)
	return cat
}

func dateRange(t *testing.T, start, end string) models.DateRange {
	t.Helper()
	r, err := models.ParseDateRange(start, end)
	require.NoError(t, err)
	return r
}

func setupStore(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, db.CreateSchema(context.Background(), bunDB))

	t.Cleanup(func() { bunDB.Close() })
	return &db.DB{Bun: bunDB}, bunDB
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeCalendar keeps events in memory.
type fakeCalendar struct {
	mu        sync.Mutex
	seq       int
	events    map[string]models.DateRange
	busy      []calendar.BusyPeriod
	createErr error
	deleteErr error
	creates   int
	deletes   int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: map[string]models.DateRange{}}
}

func (f *fakeCalendar) CreateEvent(_ context.Context, resourceID string, r models.DateRange, _ calendar.EventInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.seq++
	ref := fmt.Sprintf("evt-%s-%d", resourceID, f.seq)
	f.events[ref] = r
	return ref, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ string, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.events, ref)
	return nil
}

func (f *fakeCalendar) QueryBusy(context.Context, string, models.DateRange) ([]calendar.BusyPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy, nil
}

func (f *fakeCalendar) counts() (creates, deletes, live int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.deletes, len(f.events)
}

// memorySink collects audit entries.
type memorySink struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (m *memorySink) Record(_ context.Context, e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

func (m *memorySink) last(action string) (models.AuditEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Action == action {
			return m.entries[i], true
		}
	}
	return models.AuditEntry{}, false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ReservationEvent
}

func (p *recordingPublisher) PublishReservationEvent(_ context.Context, ev models.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []models.ReservationEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ReservationEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertReservation(ctx context.Context, res *models.Reservation) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *MockStore) GetReservationByID(ctx context.Context, id string) (*models.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

func (m *MockStore) CompareAndSetStatus(ctx context.Context, id string, expected []models.ReservationStatus, next models.ReservationStatus, upd db.StatusUpdate) error {
	args := m.Called(ctx, id, expected, next, upd)
	return args.Error(0)
}

func (m *MockStore) FindOverlapping(ctx context.Context, resourceID string, r models.DateRange, statuses []models.ReservationStatus) ([]models.Reservation, error) {
	args := m.Called(ctx, resourceID, r, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *MockStore) FindStale(ctx context.Context, status models.ReservationStatus, olderThan time.Time) ([]models.Reservation, error) {
	args := m.Called(ctx, status, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reservation), args.Error(1)
}

type fixture struct {
	svc    *reservation.Service
	store  reservation.Store
	bun    *bun.DB
	cal    *fakeCalendar
	audit  *memorySink
	events *recordingPublisher
	clock  *clock
}

// newFixture wires a service over sqlite unless a store is given.
func newFixture(t *testing.T, store reservation.Store, opts ...reservation.Option) *fixture {
	f := &fixture{
		cal:    newFakeCalendar(),
		audit:  &memorySink{},
		events: &recordingPublisher{},
		clock:  &clock{now: t0},
	}
	if store == nil {
		s, bunDB := setupStore(t)
		store, f.bun = s, bunDB
	}
	f.store = store

	base := []reservation.Option{
		reservation.WithAudit(f.audit),
		reservation.WithEvents(f.events),
		reservation.WithClock(f.clock.Now),
	}
	f.svc = reservation.NewService(store, f.cal, testCatalog(t), append(base, opts...)...)
	return f
}

func (f *fixture) hold(t *testing.T, resourceID, start, end string, options ...models.Option) *models.Reservation {
	t.Helper()
	res, err := f.svc.CreateHold(context.Background(), reservation.HoldRequest{
		ResourceID: resourceID,
		UserID:     "user-1",
		Range:      dateRange(t, start, end),
		Options:    options,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) countReservations(t *testing.T) int {
	t.Helper()
	n, err := f.bun.NewSelect().Model((*models.Reservation)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}

var errBoom = errors.New("boom")
