package reservation_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ms-rental/internal/logger"
	"ms-rental/internal/models"
	"ms-rental/internal/reservation"
	"ms-rental/internal/utils"
	"ms-rental/internal/voucher"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ReservationService interface {
	Quote(ctx context.Context, resourceID string, r models.DateRange, options []models.Option) (models.Quote, error)
	CheckAvailability(ctx context.Context, resourceID string, r models.DateRange) (*reservation.Availability, error)
	CreateHold(ctx context.Context, req reservation.HoldRequest) (*models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ConfirmPayment(ctx context.Context, id string, result reservation.PaymentResult) (*models.Reservation, error)
	Cancel(ctx context.Context, id string, reason models.CancelReason) (*reservation.CancelResult, error)
	SweepExpired(ctx context.Context, threshold time.Duration) (*reservation.SweepResult, error)
}

type AuditLog interface {
	ListRecent(ctx context.Context, reservationID string, limit int) ([]models.AuditEntry, error)
}

type VehicleLookup interface {
	GetResource(ctx context.Context, id string) (*models.Vehicle, error)
}

type Handler struct {
	Service  ReservationService
	AuditLog AuditLog
	Vouchers *voucher.Generator
	Logger   *logger.Logger

	// PDF and Vehicles enable the printable voucher; both are optional.
	PDF      *voucher.PDFRenderer
	Vehicles VehicleLookup
}

func NewHandler(svc ReservationService, auditLog AuditLog, vouchers *voucher.Generator, log *logger.Logger) *Handler {
	return &Handler{Service: svc, AuditLog: auditLog, Vouchers: vouchers, Logger: log}
}

// Routes mounts the reservation API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/vehicles/{resourceId}/availability", h.GetAvailability)
		r.Get("/quote", h.GetQuote)
		r.Post("/payment-webhook", h.PaymentWebhook)
		r.Get("/system-logs", h.ListSystemLogs)

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Post("/sweep", h.SweepExpired)
			r.Get("/{reservationId}", h.GetReservation)
			r.Post("/{reservationId}/cancel", h.CancelReservation)
			r.Get("/{reservationId}/voucher", h.GetVoucher)
			if h.PDF != nil {
				r.Get("/{reservationId}/voucher.pdf", h.GetVoucherPDF)
			}
		})
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reservation.ErrInvalidRange),
		errors.Is(err, reservation.ErrUnknownOption),
		errors.Is(err, reservation.ErrPaymentNotSucceeded):
		return http.StatusBadRequest
	case errors.Is(err, reservation.ErrUnknownResource),
		errors.Is(err, reservation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservation.ErrSlotUnavailable),
		errors.Is(err, reservation.ErrConflictOnInsert),
		errors.Is(err, reservation.ErrAlreadyFinalized),
		errors.Is(err, reservation.ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrCalendarCommitFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	h.writeJSON(w, status, utils.ErrorResponse(op+" failed", err.Error()))
}

func (h *Handler) badRequest(w http.ResponseWriter, op, msg string) {
	h.Logger.Warn("API", fmt.Sprintf("%s: %s", op, msg))
	h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse(op+" failed", msg))
}

func parseOptions(raw string) []models.Option {
	var out []models.Option
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, models.Option(part))
		}
	}
	return out
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceId")
	dr, err := models.ParseDateRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		h.badRequest(w, "availability", err.Error())
		return
	}

	a, err := h.Service.CheckAvailability(r.Context(), resourceID, dr)
	if err != nil {
		h.fail(w, "availability", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("availability checked", a))
}

func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dr, err := models.ParseDateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		h.badRequest(w, "quote", err.Error())
		return
	}

	quote, err := h.Service.Quote(r.Context(), q.Get("resource_id"), dr, parseOptions(q.Get("options")))
	if err != nil {
		h.fail(w, "quote", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("quote calculated", quote))
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req models.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "create reservation", "invalid request body: "+err.Error())
		return
	}
	if req.ResourceID == "" {
		h.badRequest(w, "create reservation", "resource_id is required")
		return
	}
	dr, err := models.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		h.fail(w, "create reservation", fmt.Errorf("%w: %v", reservation.ErrInvalidRange, err))
		return
	}

	res, err := h.Service.CreateHold(r.Context(), reservation.HoldRequest{
		ResourceID: req.ResourceID,
		UserID:     req.UserID,
		Range:      dr,
		Options:    req.Options,
	})
	if err != nil {
		h.fail(w, "create reservation", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateReservation: hold %s created for %s", res.ID, res.ResourceID))
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("reservation held", res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetReservation(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.fail(w, "get reservation", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation found", res))
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reservationId")

	var body struct {
		Reason string `json:"reason"`
	}
	// The body is optional.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(w, "cancel reservation", "invalid request body: "+err.Error())
		return
	}
	reason := models.ReasonManual
	switch body.Reason {
	case "", string(models.ReasonManual):
	case string(models.ReasonAutoExpire):
		reason = models.ReasonAutoExpire
	default:
		h.badRequest(w, "cancel reservation", fmt.Sprintf("unknown reason %q", body.Reason))
		return
	}

	result, err := h.Service.Cancel(r.Context(), id, reason)
	if err != nil {
		h.fail(w, "cancel reservation", err)
		return
	}
	msg := "reservation canceled"
	if result.AlreadyCanceled {
		msg = "reservation was already canceled"
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse(msg, result))
}

func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetReservation(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.fail(w, "voucher", err)
		return
	}
	img, err := h.Vouchers.PNG(*res)
	if errors.Is(err, voucher.ErrNotConfirmed) {
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("voucher failed", err.Error()))
		return
	}
	if err != nil {
		h.fail(w, "voucher", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=voucher-%s.png", res.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img); err != nil {
		h.Logger.Error("API", fmt.Sprintf("voucher: write failed: %v", err))
	}
}

func (h *Handler) GetVoucherPDF(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetReservation(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.fail(w, "voucher pdf", err)
		return
	}

	var vehicle *models.Vehicle
	if h.Vehicles != nil {
		if v, err := h.Vehicles.GetResource(r.Context(), res.ResourceID); err == nil {
			vehicle = v
		}
	}

	doc, err := h.PDF.Render(*res, vehicle)
	if errors.Is(err, voucher.ErrNotConfirmed) {
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("voucher pdf failed", err.Error()))
		return
	}
	if err != nil {
		h.fail(w, "voucher pdf", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=voucher-%s.pdf", res.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		h.Logger.Error("API", fmt.Sprintf("voucher pdf: write failed: %v", err))
	}
}

// PaymentWebhook receives the payment provider's result for a hold.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var p models.PaymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.badRequest(w, "payment webhook", "invalid request body: "+err.Error())
		return
	}
	if p.ReservationID == "" {
		h.badRequest(w, "payment webhook", "reservation_id is required")
		return
	}

	res, err := h.Service.ConfirmPayment(r.Context(), p.ReservationID, reservation.PaymentResult{
		Status:     p.PaymentStatus,
		PaymentRef: p.PaymentID,
	})
	if err != nil {
		h.fail(w, "payment webhook", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("payment confirmed", res))
}

func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	var threshold time.Duration
	if raw := r.URL.Query().Get("threshold_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			h.badRequest(w, "sweep", "threshold_minutes must be a positive integer")
			return
		}
		threshold = time.Duration(minutes) * time.Minute
	}

	result, err := h.Service.SweepExpired(r.Context(), threshold)
	if err != nil {
		h.fail(w, "sweep", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("sweep finished", result))
}

func (h *Handler) ListSystemLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			h.badRequest(w, "system logs", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.AuditLog.ListRecent(r.Context(), r.URL.Query().Get("reservation_id"), limit)
	if err != nil {
		h.fail(w, "system logs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("system logs", entries))
}

// RequestLogger logs one line per request through the API category.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
		})
	}
}
