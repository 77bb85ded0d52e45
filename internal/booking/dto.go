package booking

import (
	"time"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/core/common/validation"
	"github.com/dojohq/booking-management/internal/core/datamodel/booking"
)

type CreateBookingRequest struct {
	ClassID     int64  `json:"class_id"`
	ScheduleID  int64  `json:"schedule_id"`
	BookingType string `json:"booking_type"`
	PhoneNumber string `json:"phone_number"`
}

func (r *CreateBookingRequest) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("class_id", r.ClassID).Required().MinInt(1, internal.ErrCodeInvalidSchedule)
	v.Field("schedule_id", r.ScheduleID).Required().MinInt(1, internal.ErrCodeInvalidSchedule)
	v.Field("booking_type", r.BookingType).Required().OneOf([]string{
		booking.TypeFreeTrial, booking.TypeMonthly, booking.TypeDropIn,
	}, internal.ErrCodeValidationFailed)
	if r.BookingType != booking.TypeFreeTrial {
		v.Field("phone_number", r.PhoneNumber).Required().MaxLength(20)
	}
	return v.Validate()
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// BookingResponse is the API shape of a booking. CustomerMessage is the
// provider's prompt text, present only right after a push is initiated.
type BookingResponse struct {
	ID               int64      `json:"id"`
	BookingReference string     `json:"booking_reference"`
	ClassID          int64      `json:"class_id"`
	ScheduleID       int64      `json:"schedule_id"`
	BookingType      string     `json:"booking_type"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	Amount           int64      `json:"amount"`
	ReceiptNumber    *string    `json:"receipt_number,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	BookedAt         time.Time  `json:"booked_at"`
	CustomerMessage  string     `json:"customer_message,omitempty"`
	Waitlisted       bool       `json:"waitlisted,omitempty"`
}

func toResponse(b *booking.Booking) *BookingResponse {
	return &BookingResponse{
		ID:               b.ID,
		BookingReference: b.BookingReference,
		ClassID:          b.ClassID,
		ScheduleID:       b.ScheduleID,
		BookingType:      b.BookingType,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		Amount:           b.Amount,
		ReceiptNumber:    b.ReceiptNumber,
		ExpiresAt:        b.ExpiresAt,
		ConfirmedAt:      b.ConfirmedAt,
		BookedAt:         b.BookedAt,
	}
}

// StatusResponse is the poll endpoint's answer. Message carries the
// customer-facing wording for failures and pending states.
type StatusResponse struct {
	BookingReference string  `json:"booking_reference"`
	Status           string  `json:"status"`
	PaymentStatus    string  `json:"payment_status"`
	ReceiptNumber    *string `json:"receipt_number,omitempty"`
	Message          string  `json:"message,omitempty"`
}
