package notification

import (
	"context"
	"log/slog"

	"github.com/dojohq/booking-management/internal/core/events"
)

// Notifier delivers a booking lifecycle message to the customer. The
// log implementation stands in until an SMS or email sender is wired.
type Notifier interface {
	Notify(ctx context.Context, userRef string, subject, message string) error
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userRef string, subject, message string) error {
	n.logger.Info("notification",
		"recipient", userRef,
		"subject", subject,
		"message", message)
	return nil
}

// EventHandler turns booking lifecycle events into notifications.
type EventHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewEventHandler(notifier Notifier, logger *slog.Logger) *EventHandler {
	return &EventHandler{notifier: notifier, logger: logger}
}

// RegisterHandlers subscribes the notification hooks to the event bus.
func (h *EventHandler) RegisterHandlers(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeBookingCreated, h.handleBookingCreated)
	bus.Subscribe(events.EventTypePaymentConfirmed, h.handlePaymentConfirmed)
	bus.Subscribe(events.EventTypePaymentFailed, h.handlePaymentFailed)
	bus.Subscribe(events.EventTypeBookingExpired, h.handleBookingExpired)
	bus.Subscribe(events.EventTypeBookingCancelled, h.handleBookingCancelled)
}

func (h *EventHandler) handleBookingCreated(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.BookingCreatedEvent)
	if !ok {
		return nil
	}
	return h.notifier.Notify(ctx, e.BookingReference,
		"Booking received",
		"We received your booking "+e.BookingReference+". Complete the payment prompt on your phone to confirm your spot.")
}

func (h *EventHandler) handlePaymentConfirmed(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentConfirmedEvent)
	if !ok {
		return nil
	}
	return h.notifier.Notify(ctx, e.BookingReference,
		"Booking confirmed",
		"Your payment was received and your class booking "+e.BookingReference+" is confirmed.")
}

func (h *EventHandler) handlePaymentFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return nil
	}
	return h.notifier.Notify(ctx, e.BookingReference,
		"Payment failed",
		"Payment for booking "+e.BookingReference+" did not go through: "+e.Reason)
}

func (h *EventHandler) handleBookingExpired(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.BookingExpiredEvent)
	if !ok {
		return nil
	}
	return h.notifier.Notify(ctx, e.BookingReference,
		"Booking expired",
		"Booking "+e.BookingReference+" expired because payment was not completed in time.")
}

func (h *EventHandler) handleBookingCancelled(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.BookingCancelledEvent)
	if !ok {
		return nil
	}
	message := "Booking " + e.BookingReference + " has been cancelled."
	if e.Refunded {
		message += " Your refund is being processed."
	}
	return h.notifier.Notify(ctx, e.BookingReference, "Booking cancelled", message)
}
