package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/audit"
	"github.com/dojohq/booking-management/internal/core/datamodel/booking"
	mpesadm "github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
	"github.com/dojohq/booking-management/internal/core/datamodel/paymentlog"
	"github.com/dojohq/booking-management/internal/core/events"
	"github.com/dojohq/booking-management/internal/mpesa"
)

// RepositoryAPI is the persistence surface the orchestrator and the
// reconciler share. FinalizeByRequestID runs its mutation under a row
// lock in one transaction, which is what serializes the two
// confirmation channels.
type RepositoryAPI interface {
	Create(b *booking.Booking, logs ...*paymentlog.PaymentLog) error
	GetByID(id int64) (*booking.Booking, error)
	GetByGatewayRequestID(requestID string) (*booking.Booking, error)
	Update(b *booking.Booking) error
	ListByUser(userID int64, limit int) ([]*booking.Booking, error)

	CountRecentByUser(userID int64, since time.Time) (int64, error)
	FindActiveDuplicate(userID, classID, scheduleID int64) (*booking.Booking, error)
	CountActiveForSchedule(classID, scheduleID int64) (int64, error)
	CountFreeTrialsByUser(userID, classID int64) (int64, error)

	GetClass(classID int64) (*booking.KarateClass, error)
	GetSchedule(scheduleID int64) (*booking.ClassSchedule, error)
	AddToWaitingList(entry *booking.WaitingList) error

	// FinalizeByRequestID locks the booking row keyed by gateway request
	// id, applies mutate, and persists the booking plus audit entries in
	// the same transaction. mutate returning no entries means nothing is
	// written.
	FinalizeByRequestID(requestID string, mutate func(b *booking.Booking) ([]*paymentlog.PaymentLog, error)) (*booking.Booking, error)

	// FinalizeByID is the same primitive keyed by primary key, used for
	// lazy expiry before any gateway request exists.
	FinalizeByID(id int64, mutate func(b *booking.Booking) ([]*paymentlog.PaymentLog, error)) (*booking.Booking, error)

	// DuePaymentExpiries returns bookings whose payment window elapsed,
	// oldest first, up to limit.
	DuePaymentExpiries(now time.Time, limit int) ([]*booking.Booking, error)
}

// Service orchestrates booking creation and cancellation. Payment
// confirmation lives in the Reconciler.
type Service struct {
	repo     RepositoryAPI
	gateway  mpesa.GatewayAPI
	auditor  *audit.Service
	eventBus *events.EventBus
	cfg      internal.BookingConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo RepositoryAPI, gateway mpesa.GatewayAPI, auditor *audit.Service, eventBus *events.EventBus, cfg internal.BookingConfig, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		auditor:  auditor,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestBooking runs the create flow: rate limit, duplicate check,
// capacity check (full classes go to the waiting list), then either the
// free-trial fast path or a payment push with a bounded window.
func (s *Service) RequestBooking(ctx context.Context, userID int64, req *CreateBookingRequest) (*BookingResponse, error) {
	if appErr := req.Validate(); appErr != nil {
		return nil, appErr
	}
	now := s.now()

	recent, err := s.repo.CountRecentByUser(userID, now.Add(-s.cfg.RateLimitWindow))
	if err != nil {
		return nil, internal.NewInternalError("could not check booking rate limit", err)
	}
	if recent >= int64(s.cfg.RateLimitMax) {
		return nil, internal.ErrTooManyBookings
	}

	class, err := s.repo.GetClass(req.ClassID)
	if err != nil || class == nil || !class.IsActive {
		return nil, internal.ErrClassNotFound
	}
	schedule, err := s.repo.GetSchedule(req.ScheduleID)
	if err != nil || schedule == nil || schedule.ClassID != class.ID || !schedule.IsActive {
		return nil, internal.NewValidationError("schedule does not belong to this class", internal.ErrCodeInvalidSchedule)
	}

	if dup, err := s.repo.FindActiveDuplicate(userID, class.ID, schedule.ID); err != nil {
		return nil, internal.NewInternalError("could not check for duplicate bookings", err)
	} else if dup != nil {
		return nil, internal.ErrDuplicateBooking
	}

	taken, err := s.repo.CountActiveForSchedule(class.ID, schedule.ID)
	if err != nil {
		return nil, internal.NewInternalError("could not check class capacity", err)
	}
	if taken >= int64(class.MaxStudents) {
		entry := &booking.WaitingList{UserID: userID, ClassID: class.ID, ScheduleID: schedule.ID}
		if err := s.repo.AddToWaitingList(entry); err != nil {
			s.logger.Warn("waiting list insert failed", "user_id", userID, "class_id", class.ID, "error", err)
		}
		return &BookingResponse{ClassID: class.ID, ScheduleID: schedule.ID, Waitlisted: true}, internal.ErrClassFull
	}

	if req.BookingType == booking.TypeFreeTrial {
		return s.createFreeTrial(ctx, userID, class, schedule, now)
	}
	return s.createPaidBooking(ctx, userID, class, schedule, req, now)
}

func (s *Service) createFreeTrial(ctx context.Context, userID int64, class *booking.KarateClass, schedule *booking.ClassSchedule, now time.Time) (*BookingResponse, error) {
	trials, err := s.repo.CountFreeTrialsByUser(userID, class.ID)
	if err != nil {
		return nil, internal.NewInternalError("could not check free trial eligibility", err)
	}
	if trials > 0 || class.FreeTrialSpots < 1 {
		return nil, internal.ErrNoTrialSpots
	}

	b := &booking.Booking{
		BookingReference: booking.NewReference(now),
		UserID:           userID,
		ClassID:          class.ID,
		ScheduleID:       schedule.ID,
		BookingType:      booking.TypeFreeTrial,
		Status:           booking.StatusConfirmed,
		PaymentStatus:    booking.PaymentPaid,
		Amount:           0,
		ConfirmedAt:      &now,
	}
	// trials never touch the gateway; the synthetic request id keeps the
	// set-once invariant and the audit trail uniform
	syntheticID := "FT-" + b.BookingReference
	b.GatewayRequestID = &syntheticID

	if err := s.repo.Create(b,
		&paymentlog.PaymentLog{Action: paymentlog.ActionBookingCreated},
		&paymentlog.PaymentLog{Action: paymentlog.ActionFreeTrialConfirmed, GatewayRequestID: &syntheticID},
	); err != nil {
		return nil, internal.NewInternalError("could not create booking", err)
	}

	s.eventBus.Publish(ctx, events.NewBookingCreatedEvent(b.ID, b.BookingReference, userID, class.ID, b.BookingType, 0))
	s.eventBus.Publish(ctx, events.NewPaymentConfirmedEvent(b.ID, b.BookingReference, syntheticID, "", 0, "trial"))

	s.logger.Info("free trial confirmed",
		"booking_id", b.ID, "booking_reference", b.BookingReference, "user_id", userID)
	return toResponse(b), nil
}

func (s *Service) createPaidBooking(ctx context.Context, userID int64, class *booking.KarateClass, schedule *booking.ClassSchedule, req *CreateBookingRequest, now time.Time) (*BookingResponse, error) {
	phone := mpesa.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return nil, internal.NewValidationFieldError("phone_number", "invalid Kenyan phone number", internal.ErrCodeInvalidPhone)
	}

	b := &booking.Booking{
		BookingReference: booking.NewReference(now),
		UserID:           userID,
		ClassID:          class.ID,
		ScheduleID:       schedule.ID,
		BookingType:      req.BookingType,
		Status:           booking.StatusPending,
		PaymentStatus:    booking.PaymentUnpaid,
		Amount:           class.Price,
		PhoneNumber:      phone,
	}
	if err := s.repo.Create(b, &paymentlog.PaymentLog{Action: paymentlog.ActionBookingCreated}); err != nil {
		return nil, internal.NewInternalError("could not create booking", err)
	}
	s.eventBus.Publish(ctx, events.NewBookingCreatedEvent(b.ID, b.BookingReference, userID, class.ID, b.BookingType, b.Amount))

	result, err := s.gateway.STKPush(ctx, &mpesadm.STKPushRequest{
		PhoneNumber: phone,
		Amount:      b.Amount,
		Reference:   b.BookingReference,
		Description: fmt.Sprintf("%s booking for %s", b.BookingType, class.Title),
	}, b.ID)
	if err != nil {
		b.FailInitiation(err.Error(), s.now())
		if updateErr := s.repo.Update(b); updateErr != nil {
			s.logger.Error("failed to cancel booking after push failure",
				"booking_id", b.ID, "error", updateErr)
		}
		meta := internal.RequestMetaFromContext(ctx)
		s.auditor.Record(audit.Entry{
			BookingID:  b.ID,
			Action:     paymentlog.ActionSTKPushFailed,
			StatusCode: string(errorCode(err)),
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
		return nil, err
	}

	b.InitiatePayment(result.CheckoutRequestID, now.Add(s.cfg.PaymentWindow), s.now())
	if err := s.repo.Update(b); err != nil {
		return nil, internal.NewInternalError("could not save payment initiation", err)
	}
	meta := internal.RequestMetaFromContext(ctx)
	s.auditor.Record(audit.Entry{
		BookingID:        b.ID,
		GatewayRequestID: result.CheckoutRequestID,
		Action:           paymentlog.ActionSTKPushSent,
		Raw:              mustJSON(result),
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
	})

	s.logger.Info("payment push initiated",
		"booking_id", b.ID,
		"booking_reference", b.BookingReference,
		"checkout_request_id", result.CheckoutRequestID,
		"amount", b.Amount)

	resp := toResponse(b)
	resp.CustomerMessage = result.CustomerMessage
	return resp, nil
}

// CancelBooking cancels a Pending or Confirmed booking owned by the
// caller. A paid booking is marked Refunded; the money movement itself
// is handled downstream off the cancellation event.
func (s *Service) CancelBooking(ctx context.Context, userID, bookingID int64, reason string) (*BookingResponse, error) {
	b, err := s.repo.GetByID(bookingID)
	if err != nil || b == nil {
		return nil, internal.ErrBookingNotFound
	}
	if b.UserID != userID {
		return nil, internal.ErrBookingNotFound
	}

	// cancel re-reads under the same row lock the confirmation channels
	// use, so a payment settling mid-cancel is refunded, not clobbered
	meta := internal.RequestMetaFromContext(ctx)
	b, err = s.repo.FinalizeByID(bookingID, func(b *booking.Booking) ([]*paymentlog.PaymentLog, error) {
		if !b.CancelByUser(reason, s.now()) {
			return nil, internal.ErrCannotCancel
		}
		log := &paymentlog.PaymentLog{
			GatewayRequestID: b.GatewayRequestID,
			Action:           paymentlog.ActionCancelled,
			UserAgent:        meta.UserAgent,
		}
		if meta.IPAddress != "" {
			ip := meta.IPAddress
			log.IPAddress = &ip
		}
		return []*paymentlog.PaymentLog{log}, nil
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewInternalError("could not cancel booking", err)
	}
	s.eventBus.Publish(ctx, events.NewBookingCancelledEvent(b.ID, b.BookingReference, b.PaymentStatus == booking.PaymentRefunded))

	s.logger.Info("booking cancelled",
		"booking_id", b.ID, "booking_reference", b.BookingReference, "refunded", b.PaymentStatus == booking.PaymentRefunded)
	return toResponse(b), nil
}

// GetBooking returns a booking owned by the caller.
func (s *Service) GetBooking(userID, bookingID int64) (*BookingResponse, error) {
	b, err := s.repo.GetByID(bookingID)
	if err != nil || b == nil || b.UserID != userID {
		return nil, internal.ErrBookingNotFound
	}
	return toResponse(b), nil
}

// ListBookings returns the caller's bookings, newest first.
func (s *Service) ListBookings(userID int64, limit int) ([]*BookingResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.repo.ListByUser(userID, limit)
	if err != nil {
		return nil, internal.NewInternalError("could not list bookings", err)
	}
	out := make([]*BookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toResponse(b))
	}
	return out, nil
}

func errorCode(err error) internal.ErrorCode {
	if appErr, ok := internal.IsAppError(err); ok {
		return appErr.Code
	}
	return internal.ErrCodeSystemError
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
