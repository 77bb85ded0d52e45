package booking

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/audit"
	"github.com/dojohq/booking-management/internal/core/datamodel/booking"
	mpesadm "github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
	"github.com/dojohq/booking-management/internal/core/datamodel/paymentlog"
	"github.com/dojohq/booking-management/internal/core/events"
	"github.com/dojohq/booking-management/internal/mpesa"
)

// FinalizeOutcome is one conclusive gateway verdict heading into the
// single finalization primitive, regardless of which channel carried it.
type FinalizeOutcome struct {
	RequestID     string
	Outcome       mpesadm.Outcome
	ResultCode    string
	ResultDesc    string
	ReceiptNumber string
	Raw           json.RawMessage
	Channel       string
}

const (
	ChannelWebhook = "webhook"
	ChannelPoll    = "poll"
	ChannelSweeper = "sweeper"
)

type FinalizeResult struct {
	Booking *booking.Booking
	// Applied is false when the booking was already terminal: the other
	// channel won the race and this call was a recorded no-op.
	Applied bool
}

// Reconciler funnels both confirmation channels into one row-locked
// finalization, and serves the client poll with its lazy-expiry and
// query fallback.
type Reconciler struct {
	repo     RepositoryAPI
	gateway  mpesa.GatewayAPI
	auditor  *audit.Service
	eventBus *events.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(repo RepositoryAPI, gateway mpesa.GatewayAPI, auditor *audit.Service, eventBus *events.EventBus, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		gateway:  gateway,
		auditor:  auditor,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// Finalize applies a conclusive outcome to the booking keyed by gateway
// request id. Whichever channel gets here first wins; the loser's call
// lands on a terminal row and is recorded as a no-op without error.
func (r *Reconciler) Finalize(ctx context.Context, fo FinalizeOutcome) (*FinalizeResult, error) {
	var applied bool
	b, err := r.repo.FinalizeByRequestID(fo.RequestID, func(b *booking.Booking) ([]*paymentlog.PaymentLog, error) {
		now := r.now()
		switch fo.Outcome {
		case mpesadm.OutcomeSuccess:
			var ok bool
			applied, ok = b.Confirm(fo.RequestID, fo.ReceiptNumber, now)
			if !ok || !applied {
				return r.noopLog(b, fo), nil
			}
			return []*paymentlog.PaymentLog{{
				GatewayRequestID: &fo.RequestID,
				Action:           confirmAction(fo.Channel),
				StatusCode:       fo.ResultCode,
				RawResponse:      fo.Raw,
			}}, nil
		case mpesadm.OutcomeFailed:
			applied = b.Fail(fo.RequestID, mpesa.FailureMessage(fo.ResultCode, fo.ResultDesc), now)
			if !applied {
				return r.noopLog(b, fo), nil
			}
			return []*paymentlog.PaymentLog{{
				GatewayRequestID: &fo.RequestID,
				Action:           failAction(fo.Channel),
				StatusCode:       fo.ResultCode,
				RawResponse:      fo.Raw,
			}}, nil
		default:
			// pending outcomes never reach finalization
			return nil, nil
		}
	})
	if err != nil {
		return nil, err
	}

	if applied {
		switch fo.Outcome {
		case mpesadm.OutcomeSuccess:
			r.eventBus.Publish(ctx, events.NewPaymentConfirmedEvent(
				b.ID, b.BookingReference, fo.RequestID, fo.ReceiptNumber, b.Amount, fo.Channel))
			r.logger.Info("payment confirmed",
				"booking_id", b.ID,
				"checkout_request_id", fo.RequestID,
				"receipt", fo.ReceiptNumber,
				"channel", fo.Channel)
		case mpesadm.OutcomeFailed:
			r.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
				b.ID, b.BookingReference, fo.RequestID, mpesa.FailureMessage(fo.ResultCode, fo.ResultDesc), fo.Channel))
			r.logger.Info("payment failed",
				"booking_id", b.ID,
				"checkout_request_id", fo.RequestID,
				"result_code", fo.ResultCode,
				"channel", fo.Channel)
		}
	} else {
		r.logger.Info("finalize no-op, booking already settled",
			"booking_id", b.ID,
			"checkout_request_id", fo.RequestID,
			"status", b.Status,
			"channel", fo.Channel)
	}
	return &FinalizeResult{Booking: b, Applied: applied}, nil
}

func (r *Reconciler) noopLog(b *booking.Booking, fo FinalizeOutcome) []*paymentlog.PaymentLog {
	return []*paymentlog.PaymentLog{{
		GatewayRequestID: &fo.RequestID,
		Action:           paymentlog.ActionFinalizeNoOp,
		StatusCode:       fo.ResultCode,
		RawResponse:      fo.Raw,
	}}
}

// ProcessCallback handles one webhook delivery pulled off the durable
// queue. Unknown request ids are dropped after logging: retrying them
// can never succeed.
func (r *Reconciler) ProcessCallback(ctx context.Context, cb *mpesadm.STKCallback, raw json.RawMessage) error {
	if cb.CheckoutRequestID == "" {
		r.logger.Warn("callback missing checkout request id, dropping")
		return nil
	}

	b, err := r.repo.GetByGatewayRequestID(cb.CheckoutRequestID)
	if err != nil {
		return err
	}
	if b == nil {
		r.logger.Warn("callback for unknown checkout request id, dropping",
			"checkout_request_id", cb.CheckoutRequestID)
		return nil
	}

	// Cross-check against the cached initiation context. The row lock
	// stays authoritative; a mismatch here is a correlation anomaly worth
	// flagging, not grounds to drop a signed callback.
	if sc, ok := r.gateway.PushContext(cb.CheckoutRequestID); ok && sc.BookingID != b.ID {
		r.logger.Warn("callback booking does not match cached push context",
			"checkout_request_id", cb.CheckoutRequestID,
			"booking_id", b.ID,
			"context_booking_id", sc.BookingID)
	}

	code := strconv.Itoa(cb.ResultCode)
	r.auditor.Record(audit.Entry{
		BookingID:        b.ID,
		GatewayRequestID: cb.CheckoutRequestID,
		Action:           paymentlog.ActionCallbackReceived,
		StatusCode:       code,
		Raw:              raw,
	})

	outcome := mpesadm.OutcomeFailed
	if cb.ResultCode == 0 {
		outcome = mpesadm.OutcomeSuccess
	}

	_, err = r.Finalize(ctx, FinalizeOutcome{
		RequestID:     cb.CheckoutRequestID,
		Outcome:       outcome,
		ResultCode:    code,
		ResultDesc:    cb.ResultDesc,
		ReceiptNumber: cb.ReceiptNumber(),
		Raw:           raw,
		Channel:       ChannelWebhook,
	})
	return err
}

// CheckStatus serves the client poll. Settled bookings are answered from
// the database without touching the gateway; an elapsed payment window
// is finalized lazily here; otherwise the gateway is queried and a
// conclusive answer finalized through the same primitive the webhook
// uses. Query failures leave the booking pending rather than guessing.
func (r *Reconciler) CheckStatus(ctx context.Context, userID, bookingID int64) (*StatusResponse, error) {
	b, err := r.repo.GetByID(bookingID)
	if err != nil || b == nil || b.UserID != userID {
		return nil, internal.ErrBookingNotFound
	}

	if b.IsTerminal() {
		return r.statusOf(b, ""), nil
	}

	if b.PaymentStatus == booking.PaymentPending && b.IsPaymentExpired(r.now()) {
		return r.expire(ctx, b)
	}

	if b.GatewayRequestID == nil || b.PaymentStatus != booking.PaymentPending {
		return r.statusOf(b, "awaiting payment initiation"), nil
	}

	qr, err := r.gateway.QueryStatus(ctx, *b.GatewayRequestID)
	if err != nil {
		r.logger.Warn("status query failed, reporting pending",
			"booking_id", b.ID, "error", err)
		return r.statusOf(b, "payment is being processed, please wait"), nil
	}
	if qr.Outcome == mpesadm.OutcomePending {
		return r.statusOf(b, "payment is being processed, please complete the prompt on your phone"), nil
	}

	result, err := r.Finalize(ctx, FinalizeOutcome{
		RequestID:  *b.GatewayRequestID,
		Outcome:    qr.Outcome,
		ResultCode: qr.ResultCode,
		ResultDesc: qr.ResultDesc,
		Raw:        qr.Raw,
		Channel:    ChannelPoll,
	})
	if err != nil {
		return nil, err
	}

	message := ""
	if result.Booking.PaymentStatus == booking.PaymentFailed {
		message = mpesa.FailureMessage(qr.ResultCode, qr.ResultDesc)
	}
	return r.statusOf(result.Booking, message), nil
}

// ExpireBooking finalizes one elapsed payment window. Used by both the
// lazy path and the periodic sweeper.
func (r *Reconciler) ExpireBooking(ctx context.Context, bookingID int64) (bool, error) {
	var applied bool
	b, err := r.repo.FinalizeByID(bookingID, func(b *booking.Booking) ([]*paymentlog.PaymentLog, error) {
		applied = b.MarkExpired(r.now())
		if !applied {
			return nil, nil
		}
		return []*paymentlog.PaymentLog{{
			GatewayRequestID: b.GatewayRequestID,
			Action:           paymentlog.ActionExpired,
		}}, nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		r.eventBus.Publish(ctx, events.NewBookingExpiredEvent(b.ID, b.BookingReference))
		r.logger.Info("booking expired", "booking_id", b.ID, "booking_reference", b.BookingReference)
	}
	return applied, nil
}

func (r *Reconciler) expire(ctx context.Context, b *booking.Booking) (*StatusResponse, error) {
	if _, err := r.ExpireBooking(ctx, b.ID); err != nil {
		return nil, err
	}
	fresh, err := r.repo.GetByID(b.ID)
	if err != nil || fresh == nil {
		return nil, internal.ErrBookingNotFound
	}
	return r.statusOf(fresh, "payment window expired, please book again"), nil
}

func (r *Reconciler) statusOf(b *booking.Booking, message string) *StatusResponse {
	return &StatusResponse{
		BookingReference: b.BookingReference,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		ReceiptNumber:    b.ReceiptNumber,
		Message:          message,
	}
}

func confirmAction(channel string) string {
	if channel == ChannelPoll {
		return paymentlog.ActionConfirmedViaQuery
	}
	return paymentlog.ActionConfirmed
}

func failAction(channel string) string {
	if channel == ChannelPoll {
		return paymentlog.ActionFailedViaQuery
	}
	return paymentlog.ActionFailed
}
