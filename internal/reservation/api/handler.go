package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-reservation/internal/auth"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/utils"
)

type ReservationService interface {
	CreateReservation(ctx context.Context, eventID, attendeeID string, quantity int) (string, error)
	ConfirmReservation(ctx context.Context, reservationID, attendeeID string, amountPaid int64) (*models.Reservation, error)
	CancelReservation(ctx context.Context, attendeeID, eventID string) error
	CancelReservationByID(ctx context.Context, reservationID, attendeeID string) error
	GetReservation(ctx context.Context, reservationID, attendeeID string) (*models.Reservation, error)
	ListReservationsForAttendee(ctx context.Context, attendeeID string, status models.ReservationStatus) ([]models.Reservation, error)
	GetAvailableSeats(ctx context.Context, eventID string) (int, error)
	RunExpirySweep(ctx context.Context) (reservation.SweepReport, error)
}

type Handler struct {
	Service ReservationService
	Logger  *logger.Logger
}

func NewHandler(service ReservationService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{Service: service, Logger: log}
}

// Routes returns the attendee-facing API. Every route needs an authenticated attendee.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/reservations", h.CreateReservation)
	r.Get("/reservations", h.ListReservations)
	r.Get("/reservations/{reservationId}", h.GetReservation)
	r.Post("/reservations/{reservationId}/confirm", h.ConfirmReservation)
	r.Delete("/reservations/{reservationId}", h.CancelReservationByID)
	r.Delete("/events/{eventId}/reservation", h.CancelReservation)
	r.Get("/events/{eventId}/availability", h.GetAvailability)
	return r
}

// AdminRoutes returns the operator API. It is mounted outside the attendee
// group, behind the operator token.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sweep", h.RunSweep)
	return r
}

// RequestLogger logs method, path, status and latency of every request.
func (h *Handler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

type createRequest struct {
	EventID  string `json:"event_id"`
	Quantity int    `json:"quantity"`
}

type confirmRequest struct {
	AmountPaid int64 `json:"amount_paid"`
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	attendeeID, ok := h.attendee(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, "CreateReservation", fmt.Errorf("invalid request body: %v: %w", err, models.ErrInvalidArgument))
		return
	}

	id, err := h.Service.CreateReservation(r.Context(), req.EventID, attendeeID, req.Quantity)
	if err != nil {
		h.fail(w, "CreateReservation", err)
		return
	}
	h.respond(w, http.StatusCreated, "Reservation created", map[string]string{"reservation_id": id})
}

func (h *Handler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	attendeeID, ok := h.attendee(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, "ConfirmReservation", fmt.Errorf("invalid request body: %v: %w", err, models.ErrInvalidArgument))
		return
	}

	res, err := h.Service.ConfirmReservation(r.Context(), chi.URLParam(r, "reservationId"), attendeeID, req.AmountPaid)
	if err != nil {
		h.fail(w, "ConfirmReservation", err)
		return
	}
	h.respond(w, http.StatusOK, "Reservation confirmed", res)
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	attendeeID, ok := h.attendee(w, r)
	if !ok {
		return
	}
	if err := h.Service.CancelReservation(r.Context(), attendeeID, chi.URLParam(r, "eventId")); err != nil {
		h.fail(w, "CancelReservation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelReservationByID(w http.ResponseWriter, r *http.Request) {
	attendeeID, ok := h.attendee(w, r)
	if !ok {
		return
	}
	if err := h.Service.CancelReservationByID(r.Context(), chi.URLParam(r, "reservationId"), attendeeID); err != nil {
		h.fail(w, "CancelReservationByID", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	attendeeID, ok := h.attendee(w, r)
	if !ok {
		return
	}
	res, err := h.Service.GetReservation(r.Context(), chi.URLParam(r, "reservationId"), attendeeID)
	if err != nil {
		h.fail(w, "GetReservation", err)
		return
	}
	h.respond(w, http.StatusOK, "Reservation found", res)
}

func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	attendeeID, ok := h.attendee(w, r)
	if !ok {
		return
	}

	status := models.ReservationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ReservationStatusReserved, models.ReservationStatusConfirmed, models.ReservationStatusCancelled:
	default:
		h.fail(w, "ListReservations", fmt.Errorf("unknown status %q: %w", status, models.ErrInvalidArgument))
		return
	}

	rows, err := h.Service.ListReservationsForAttendee(r.Context(), attendeeID, status)
	if err != nil {
		h.fail(w, "ListReservations", err)
		return
	}
	h.respond(w, http.StatusOK, fmt.Sprintf("%d reservation(s)", len(rows)), rows)
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	seats, err := h.Service.GetAvailableSeats(r.Context(), eventID)
	if err != nil {
		h.fail(w, "GetAvailability", err)
		return
	}
	h.respond(w, http.StatusOK, "Available seats", map[string]interface{}{"event_id": eventID, "available": seats})
}

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.RunExpirySweep(r.Context())
	if err != nil {
		h.fail(w, "RunSweep", err)
		return
	}
	h.respond(w, http.StatusOK, "Sweep finished", report)
}

func (h *Handler) attendee(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := auth.UserID(r.Context())
	if id == "" {
		h.respond(w, http.StatusUnauthorized, "", utils.ErrorResponse("Unauthorized", "no authenticated attendee"))
		return "", false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string, data interface{}) {
	body := data
	if _, isEnvelope := data.(utils.APIResponse); !isEnvelope {
		body = utils.SuccessResponse(message, data)
	}
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := utils.StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	h.respond(w, status, "", utils.ErrorResponse(http.StatusText(status), err.Error()))
}
