package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/audit"
	"github.com/dojohq/booking-management/internal/transport"
)

type ServiceAPI interface {
	RequestBooking(ctx context.Context, userID int64, req *CreateBookingRequest) (*BookingResponse, error)
	CancelBooking(ctx context.Context, userID, bookingID int64, reason string) (*BookingResponse, error)
	GetBooking(userID, bookingID int64) (*BookingResponse, error)
	ListBookings(userID int64, limit int) ([]*BookingResponse, error)
}

type ReconcilerAPI interface {
	CheckStatus(ctx context.Context, userID, bookingID int64) (*StatusResponse, error)
}

type Handler struct {
	*transport.BaseHandler
	Service    ServiceAPI
	Reconciler ReconcilerAPI
	Auditor    *audit.Service
}

func NewHandler(svc ServiceAPI, reconciler ReconcilerAPI, auditor *audit.Service) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(nil),
		Service:     svc,
		Reconciler:  reconciler,
		Auditor:     auditor,
	}
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())

	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.Service.RequestBooking(r.Context(), userID, &req)
	if err != nil {
		// a full class still reports the waitlist placement
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeClassFull && resp != nil {
			h.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
				"waitlisted": true,
				"message":    appErr.Message,
				"class_id":   resp.ClassID,
			})
			return
		}
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	resp, err := h.Service.GetBooking(userID, bookingID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	list, err := h.Service.ListBookings(userID, limit)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"bookings": list})
}

// PaymentStatus is the client poll. It may finalize the booking as a
// side effect: lazy expiry or a conclusive gateway answer.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	resp, err := h.Reconciler.CheckStatus(r.Context(), userID, bookingID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	var req CancelBookingRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	resp, err := h.Service.CancelBooking(r.Context(), userID, bookingID, req.Reason)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// PaymentHistory returns the booking's audit trail, oldest first.
func (h *Handler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	// ownership check before exposing the trail
	if _, err := h.Service.GetBooking(userID, bookingID); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	trail, err := h.Auditor.Trail(bookingID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"history": trail})
}

func (h *Handler) bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		h.WriteError(w, http.StatusBadRequest, "invalid booking id")
		return 0, false
	}
	return id, true
}
