package reservation_api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-rental/internal/logger"
	"ms-rental/internal/models"
	"ms-rental/internal/reservation"
	"ms-rental/internal/reservation/reservation_api"
	"ms-rental/internal/utils"
	"ms-rental/internal/voucher"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Quote(ctx context.Context, resourceID string, r models.DateRange, options []models.Option) (models.Quote, error) {
	args := m.Called(ctx, resourceID, r, options)
	return args.Get(0).(models.Quote), args.Error(1)
}

func (m *MockService) CheckAvailability(ctx context.Context, resourceID string, r models.DateRange) (*reservation.Availability, error) {
	args := m.Called(ctx, resourceID, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.Availability), args.Error(1)
}

func (m *MockService) CreateHold(ctx context.Context, req reservation.HoldRequest) (*models.Reservation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

func (m *MockService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

func (m *MockService) ConfirmPayment(ctx context.Context, id string, result reservation.PaymentResult) (*models.Reservation, error) {
	args := m.Called(ctx, id, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

func (m *MockService) Cancel(ctx context.Context, id string, reason models.CancelReason) (*reservation.CancelResult, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.CancelResult), args.Error(1)
}

func (m *MockService) SweepExpired(ctx context.Context, threshold time.Duration) (*reservation.SweepResult, error) {
	args := m.Called(ctx, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.SweepResult), args.Error(1)
}

type MockAuditLog struct {
	mock.Mock
}

func (m *MockAuditLog) ListRecent(ctx context.Context, reservationID string, limit int) ([]models.AuditEntry, error) {
	args := m.Called(ctx, reservationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AuditEntry), args.Error(1)
}

func setupRouter(svc *MockService, auditLog *MockAuditLog) http.Handler {
	h := reservation_api.NewHandler(svc, auditLog, voucher.NewGenerator("test-secret"), logger.NewDiscard())
	r := chi.NewRouter()
	r.Use(reservation_api.RequestLogger(logger.NewDiscard()))
	h.Routes(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, utils.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp utils.APIResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestCreateReservation(t *testing.T) {
	svc := &MockService{}
	router := setupRouter(svc, &MockAuditLog{})

	want := reservation.HoldRequest{
		ResourceID: "R1",
		UserID:     "user-1",
		Range: models.DateRange{
			Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		},
		Options: []models.Option{models.OptionChildSeat},
	}
	svc.On("CreateHold", mock.Anything, want).Return(&models.Reservation{ID: "r1", ResourceID: "R1", Status: models.StatusHeld, TotalPrice: 9180}, nil)

	rec, resp := do(t, router, http.MethodPost, "/api/reservations", models.ReservationRequest{
		ResourceID: "R1",
		UserID:     "user-1",
		StartDate:  "2025-06-01",
		EndDate:    "2025-06-03",
		Options:    []models.Option{models.OptionChildSeat},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	svc.AssertExpectations(t)
}

func TestCreateReservation_BadInput(t *testing.T) {
	svc := &MockService{}
	router := setupRouter(svc, &MockAuditLog{})

	rec, resp := do(t, router, http.MethodPost, "/api/reservations", models.ReservationRequest{ResourceID: "R1", StartDate: "2025-06-03", EndDate: "2025-06-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = do(t, router, http.MethodPost, "/api/reservations", models.ReservationRequest{StartDate: "2025-06-01", EndDate: "2025-06-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertNotCalled(t, "CreateHold", mock.Anything, mock.Anything)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{reservation.ErrInvalidRange, http.StatusBadRequest},
		{reservation.ErrUnknownOption, http.StatusBadRequest},
		{reservation.ErrUnknownResource, http.StatusNotFound},
		{&reservation.SlotUnavailableError{ResourceID: "R1"}, http.StatusConflict},
		{fmt.Errorf("%w: raced", reservation.ErrConflictOnInsert), http.StatusConflict},
		{reservation.ErrCalendarCommitFailed, http.StatusBadGateway},
		{reservation.ErrPersistFailed, http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			svc := &MockService{}
			svc.On("CreateHold", mock.Anything, mock.Anything).Return(nil, tc.err)
			router := setupRouter(svc, &MockAuditLog{})

			rec, resp := do(t, router, http.MethodPost, "/api/reservations", models.ReservationRequest{ResourceID: "R1", StartDate: "2025-06-01", EndDate: "2025-06-02"})
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.err.Error(), resp.Error)
		})
	}
}

func TestPaymentWebhook(t *testing.T) {
	svc := &MockService{}
	router := setupRouter(svc, &MockAuditLog{})

	svc.On("ConfirmPayment", mock.Anything, "r1", reservation.PaymentResult{Status: "succeeded", PaymentRef: "pay_1"}).
		Return(&models.Reservation{ID: "r1", Status: models.StatusConfirmed}, nil)
	svc.On("ConfirmPayment", mock.Anything, "r2", mock.Anything).Return(nil, reservation.ErrAlreadyFinalized)
	svc.On("ConfirmPayment", mock.Anything, "r3", mock.Anything).Return(nil, reservation.ErrPaymentNotSucceeded)

	rec, _ := do(t, router, http.MethodPost, "/api/payment-webhook", models.PaymentConfirmation{ReservationID: "r1", PaymentStatus: "succeeded", PaymentID: "pay_1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/api/payment-webhook", models.PaymentConfirmation{ReservationID: "r2", PaymentStatus: "succeeded", PaymentID: "pay_2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/api/payment-webhook", models.PaymentConfirmation{ReservationID: "r3", PaymentStatus: "failed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/api/payment-webhook", models.PaymentConfirmation{PaymentStatus: "succeeded"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelReservation(t *testing.T) {
	svc := &MockService{}
	router := setupRouter(svc, &MockAuditLog{})

	svc.On("Cancel", mock.Anything, "r1", models.ReasonManual).Return(&reservation.CancelResult{
		Reservation:     &models.Reservation{ID: "r1", Status: models.StatusCanceled},
		AlreadyCanceled: true,
	}, nil)

	rec, resp := do(t, router, http.MethodPost, "/api/reservations/r1/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reservation was already canceled", resp.Message)

	rec, _ = do(t, router, http.MethodPost, "/api/reservations/r1/cancel", map[string]string{"reason": "because"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.On("Cancel", mock.Anything, "missing", models.ReasonManual).Return(nil, reservation.ErrNotFound)
	rec, _ = do(t, router, http.MethodPost, "/api/reservations/missing/cancel", map[string]string{"reason": "manual-cancel"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVoucher(t *testing.T) {
	svc := &MockService{}
	router := setupRouter(svc, &MockAuditLog{})

	svc.On("GetReservation", mock.Anything, "r1").Return(&models.Reservation{
		ID:         "r1",
		ResourceID: "R1",
		StartDate:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Status:     models.StatusConfirmed,
	}, nil)
	svc.On("GetReservation", mock.Anything, "r2").Return(&models.Reservation{ID: "r2", Status: models.StatusHeld}, nil)

	rec, _ := do(t, router, http.MethodGet, "/api/reservations/r1/voucher", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec, _ = do(t, router, http.MethodGet, "/api/reservations/r2/voucher", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetVoucherPDF(t *testing.T) {
	svc := &MockService{}
	gen := voucher.NewGenerator("test-secret")

	// Without a renderer the route is not mounted.
	rec, _ := do(t, setupRouter(svc, &MockAuditLog{}), http.MethodGet, "/api/reservations/r1/voucher.pdf", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	h := reservation_api.NewHandler(svc, &MockAuditLog{}, gen, logger.NewDiscard())
	h.PDF = voucher.NewPDFRenderer(gen, "does/not/exist.ttf")
	router := chi.NewRouter()
	h.Routes(router)

	svc.On("GetReservation", mock.Anything, "held").Return(&models.Reservation{ID: "held", Status: models.StatusHeld}, nil)
	svc.On("GetReservation", mock.Anything, "paid").Return(&models.Reservation{ID: "paid", ResourceID: "R1", Status: models.StatusConfirmed}, nil)
	svc.On("GetReservation", mock.Anything, "gone").Return(nil, reservation.ErrNotFound)

	rec, _ = do(t, router, http.MethodGet, "/api/reservations/held/voucher.pdf", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/reservations/gone/voucher.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/reservations/paid/voucher.pdf", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQuoteAndAvailability(t *testing.T) {
	svc := &MockService{}
	router := setupRouter(svc, &MockAuditLog{})

	svc.On("Quote", mock.Anything, "R1", mock.Anything, []models.Option{models.OptionChildSeat, models.OptionInsurance}).
		Return(models.Quote{Total: 10380}, nil)
	rec, resp := do(t, router, http.MethodGet, "/api/quote?resource_id=R1&start=2025-06-01&end=2025-06-03&options=child_seat,insurance", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	svc.On("CheckAvailability", mock.Anything, "R1", mock.Anything).Return(&reservation.Availability{ResourceID: "R1", Available: true}, nil)
	rec, _ = do(t, router, http.MethodGet, "/api/vehicles/R1/availability?start=2025-06-01&end=2025-06-03", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/vehicles/R1/availability?start=june&end=2025-06-03", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepAndSystemLogs(t *testing.T) {
	svc := &MockService{}
	auditLog := &MockAuditLog{}
	router := setupRouter(svc, auditLog)

	svc.On("SweepExpired", mock.Anything, 30*time.Minute).Return(&reservation.SweepResult{Scanned: 2, Succeeded: 2}, nil)
	rec, _ := do(t, router, http.MethodPost, "/api/reservations/sweep?threshold_minutes=30", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/api/reservations/sweep?threshold_minutes=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	auditLog.On("ListRecent", mock.Anything, "", 100).Return([]models.AuditEntry{{Action: models.ActionCancel}}, nil)
	rec, resp := do(t, router, http.MethodGet, "/api/system-logs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}
