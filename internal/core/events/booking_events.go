package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeBookingCreated   = "booking.created"
	EventTypePaymentConfirmed = "payment.confirmed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeBookingExpired   = "booking.expired"
	EventTypeBookingCancelled = "booking.cancelled"
)

type BookingCreatedEvent struct {
	BaseEvent
	BookingID        int64  `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	UserID           int64  `json:"user_id"`
	ClassID          int64  `json:"class_id"`
	BookingType      string `json:"booking_type"`
	Amount           int64  `json:"amount"`
}

func NewBookingCreatedEvent(bookingID int64, reference string, userID, classID int64, bookingType string, amount int64) *BookingCreatedEvent {
	return &BookingCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBookingCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":        bookingID,
				"booking_reference": reference,
				"user_id":           userID,
				"class_id":          classID,
				"booking_type":      bookingType,
				"amount":            amount,
			},
		},
		BookingID:        bookingID,
		BookingReference: reference,
		UserID:           userID,
		ClassID:          classID,
		BookingType:      bookingType,
		Amount:           amount,
	}
}

type PaymentConfirmedEvent struct {
	BaseEvent
	BookingID        int64  `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	GatewayRequestID string `json:"gateway_request_id"`
	ReceiptNumber    string `json:"receipt_number"`
	Amount           int64  `json:"amount"`
	Channel          string `json:"channel"`
}

// NewPaymentConfirmedEvent records which confirmation channel won the
// race ("webhook" or "poll") for observability.
func NewPaymentConfirmedEvent(bookingID int64, reference, requestID, receipt string, amount int64, channel string) *PaymentConfirmedEvent {
	return &PaymentConfirmedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentConfirmed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":         bookingID,
				"booking_reference":  reference,
				"gateway_request_id": requestID,
				"receipt_number":     receipt,
				"amount":             amount,
				"channel":            channel,
			},
		},
		BookingID:        bookingID,
		BookingReference: reference,
		GatewayRequestID: requestID,
		ReceiptNumber:    receipt,
		Amount:           amount,
		Channel:          channel,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	BookingID        int64  `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	GatewayRequestID string `json:"gateway_request_id"`
	Reason           string `json:"reason"`
	Channel          string `json:"channel"`
}

func NewPaymentFailedEvent(bookingID int64, reference, requestID, reason, channel string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":         bookingID,
				"booking_reference":  reference,
				"gateway_request_id": requestID,
				"reason":             reason,
				"channel":            channel,
			},
		},
		BookingID:        bookingID,
		BookingReference: reference,
		GatewayRequestID: requestID,
		Reason:           reason,
		Channel:          channel,
	}
}

type BookingExpiredEvent struct {
	BaseEvent
	BookingID        int64  `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
}

func NewBookingExpiredEvent(bookingID int64, reference string) *BookingExpiredEvent {
	return &BookingExpiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBookingExpired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":        bookingID,
				"booking_reference": reference,
			},
		},
		BookingID:        bookingID,
		BookingReference: reference,
	}
}

type BookingCancelledEvent struct {
	BaseEvent
	BookingID        int64  `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	Refunded         bool   `json:"refunded"`
}

func NewBookingCancelledEvent(bookingID int64, reference string, refunded bool) *BookingCancelledEvent {
	return &BookingCancelledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBookingCancelled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":        bookingID,
				"booking_reference": reference,
				"refunded":          refunded,
			},
		},
		BookingID:        bookingID,
		BookingReference: reference,
		Refunded:         refunded,
	}
}
