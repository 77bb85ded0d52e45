package audit

import (
	"encoding/json"
	"log/slog"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/core/datamodel/paymentlog"
)

// RepositoryAPI persists audit entries. Implementations append within
// the caller's transaction when given one via the Tx variant.
type RepositoryAPI interface {
	Append(entry *paymentlog.PaymentLog) error
	ListByBooking(bookingID int64) ([]*paymentlog.PaymentLog, error)
	ListByGatewayRequestID(requestID string) ([]*paymentlog.PaymentLog, error)
}

// Service records payment audit entries. Append failures never fail the
// business operation, they are logged and dropped.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Entry is the builder-style input for one audit record.
type Entry struct {
	BookingID        int64
	GatewayRequestID string
	Action           string
	StatusCode       string
	Raw              json.RawMessage
	IPAddress        string
	UserAgent        string
}

func (s *Service) Record(e Entry) {
	log := &paymentlog.PaymentLog{
		BookingID:   e.BookingID,
		Action:      e.Action,
		StatusCode:  e.StatusCode,
		RawResponse: e.Raw,
		UserAgent:   e.UserAgent,
	}
	if e.GatewayRequestID != "" {
		log.GatewayRequestID = &e.GatewayRequestID
	}
	if e.IPAddress != "" {
		log.IPAddress = &e.IPAddress
	}
	if err := s.repo.Append(log); err != nil {
		s.logger.Error("failed to append audit entry",
			"booking_id", e.BookingID,
			"action", e.Action,
			"error", err)
	}
}

// RecordPushAttempt writes one entry per try against the payment
// provider. The first try is the initiation, later ones are retries, so
// an exhausted push leaves a full trail of what was attempted and when.
func (s *Service) RecordPushAttempt(bookingID int64, attempt int, attemptErr error) {
	action := paymentlog.ActionPaymentInitiated
	if attempt > 1 {
		action = paymentlog.ActionSTKPushRetried
	}
	status := "OK"
	if attemptErr != nil {
		status = string(internal.ErrCodeNetworkError)
		if appErr, ok := internal.IsAppError(attemptErr); ok {
			status = string(appErr.Code)
		}
	}
	s.Record(Entry{
		BookingID:  bookingID,
		Action:     action,
		StatusCode: status,
	})
}

// Trail returns the audit entries for a booking, oldest first.
func (s *Service) Trail(bookingID int64) ([]*paymentlog.PaymentLog, error) {
	return s.repo.ListByBooking(bookingID)
}
