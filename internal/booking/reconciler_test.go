package booking_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/audit"
	bookingpkg "github.com/dojohq/booking-management/internal/booking"
	"github.com/dojohq/booking-management/internal/core/datamodel/booking"
	mpesadm "github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
	"github.com/dojohq/booking-management/internal/core/datamodel/paymentlog"
	"github.com/dojohq/booking-management/internal/core/events"
)

var _ = Describe("Reconciler", func() {
	var (
		repo       *mockRepository
		gateway    *mockGateway
		auditRepo  *mockAuditRepository
		reconciler *bookingpkg.Reconciler
		ctx        context.Context
		pending    *booking.Booking
	)

	const requestID = "ws_CO_555"

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMockRepository()
		gateway = &mockGateway{}
		auditRepo = &mockAuditRepository{}

		logger := testLogger()
		auditor := audit.NewService(auditRepo, logger)
		bus := events.NewEventBus(logger)
		reconciler = bookingpkg.NewReconciler(repo, gateway, auditor, bus, logger)

		expires := time.Now().Add(5 * time.Minute)
		id := requestID
		pending = &booking.Booking{
			BookingReference: booking.NewReference(time.Now()),
			UserID:           7,
			ClassID:          1,
			ScheduleID:       10,
			BookingType:      booking.TypeMonthly,
			Status:           booking.StatusPending,
			PaymentStatus:    booking.PaymentPending,
			Amount:           1500,
			PhoneNumber:      "254712345678",
			GatewayRequestID: &id,
			ExpiresAt:        &expires,
		}
		Expect(repo.Create(pending)).To(Succeed())
	})

	successOutcome := func(channel string) bookingpkg.FinalizeOutcome {
		return bookingpkg.FinalizeOutcome{
			RequestID:     requestID,
			Outcome:       mpesadm.OutcomeSuccess,
			ResultCode:    "0",
			ResultDesc:    "The service request is processed successfully.",
			ReceiptNumber: "QGX12ABC34",
			Channel:       channel,
		}
	}

	Describe("Finalize", func() {
		It("confirms a pending booking on a success outcome", func() {
			result, err := reconciler.Finalize(ctx, successOutcome(bookingpkg.ChannelWebhook))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Applied).To(BeTrue())
			Expect(result.Booking.Status).To(Equal(booking.StatusConfirmed))
			Expect(result.Booking.PaymentStatus).To(Equal(booking.PaymentPaid))
			Expect(*result.Booking.ReceiptNumber).To(Equal("QGX12ABC34"))
			Expect(repo.actionsFor(pending.ID)).To(ContainElement(paymentlog.ActionConfirmed))
		})

		It("fails a pending booking on a failure outcome", func() {
			result, err := reconciler.Finalize(ctx, bookingpkg.FinalizeOutcome{
				RequestID:  requestID,
				Outcome:    mpesadm.OutcomeFailed,
				ResultCode: "1032",
				ResultDesc: "Request cancelled by user",
				Channel:    bookingpkg.ChannelWebhook,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Applied).To(BeTrue())
			Expect(result.Booking.Status).To(Equal(booking.StatusCancelled))
			Expect(result.Booking.PaymentStatus).To(Equal(booking.PaymentFailed))
			Expect(repo.actionsFor(pending.ID)).To(ContainElement(paymentlog.ActionFailed))
		})

		It("records the loser of the race as a no-op", func() {
			first, err := reconciler.Finalize(ctx, successOutcome(bookingpkg.ChannelWebhook))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Applied).To(BeTrue())

			second, err := reconciler.Finalize(ctx, successOutcome(bookingpkg.ChannelPoll))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Applied).To(BeFalse())
			Expect(second.Booking.Status).To(Equal(booking.StatusConfirmed))
			Expect(repo.actionsFor(pending.ID)).To(ContainElement(paymentlog.ActionFinalizeNoOp))
		})

		It("applies exactly once under concurrent finalization", func() {
			var wg sync.WaitGroup
			results := make([]*bookingpkg.FinalizeResult, 2)
			channels := []string{bookingpkg.ChannelWebhook, bookingpkg.ChannelPoll}
			for i := range channels {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					result, err := reconciler.Finalize(ctx, successOutcome(channels[i]))
					Expect(err).NotTo(HaveOccurred())
					results[i] = result
				}(i)
			}
			wg.Wait()

			applied := 0
			for _, result := range results {
				if result.Applied {
					applied++
				}
			}
			Expect(applied).To(Equal(1))
			Expect(repo.bookings[pending.ID].Status).To(Equal(booking.StatusConfirmed))
		})

		It("records poll finalizations under the query action", func() {
			_, err := reconciler.Finalize(ctx, successOutcome(bookingpkg.ChannelPoll))
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.actionsFor(pending.ID)).To(ContainElement(paymentlog.ActionConfirmedViaQuery))
		})
	})

	Describe("ProcessCallback", func() {
		rawPayload := json.RawMessage(`{"Body":{"stkCallback":{}}}`)

		It("confirms the booking and audits the delivery", func() {
			cb := &mpesadm.STKCallback{
				CheckoutRequestID: requestID,
				ResultCode:        0,
				ResultDesc:        "The service request is processed successfully.",
				CallbackMetadata: &mpesadm.CallbackMetadata{Item: []mpesadm.CallbackItem{
					{Name: "MpesaReceiptNumber", Value: "QGX12ABC34"},
					{Name: "Amount", Value: float64(1500)},
				}},
			}
			Expect(reconciler.ProcessCallback(ctx, cb, rawPayload)).To(Succeed())

			Expect(repo.bookings[pending.ID].Status).To(Equal(booking.StatusConfirmed))
			Expect(*repo.bookings[pending.ID].ReceiptNumber).To(Equal("QGX12ABC34"))
			Expect(auditRepo.entries).To(HaveLen(1))
			Expect(auditRepo.entries[0].Action).To(Equal(paymentlog.ActionCallbackReceived))
		})

		It("fails the booking on a non-zero result code", func() {
			cb := &mpesadm.STKCallback{
				CheckoutRequestID: requestID,
				ResultCode:        1037,
				ResultDesc:        "DS timeout.",
			}
			Expect(reconciler.ProcessCallback(ctx, cb, rawPayload)).To(Succeed())
			Expect(repo.bookings[pending.ID].PaymentStatus).To(Equal(booking.PaymentFailed))
		})

		It("still settles when the cached push context disagrees", func() {
			gateway.pushContext = &mpesadm.STKContext{
				BookingID:   pending.ID + 100,
				PhoneNumber: "254700000000",
				Amount:      99,
			}
			cb := &mpesadm.STKCallback{
				CheckoutRequestID: requestID,
				ResultCode:        0,
				CallbackMetadata: &mpesadm.CallbackMetadata{Item: []mpesadm.CallbackItem{
					{Name: "MpesaReceiptNumber", Value: "QGX12ABC34"},
				}},
			}
			Expect(reconciler.ProcessCallback(ctx, cb, rawPayload)).To(Succeed())
			Expect(repo.bookings[pending.ID].Status).To(Equal(booking.StatusConfirmed))
		})

		It("drops a callback for an unknown checkout request id", func() {
			cb := &mpesadm.STKCallback{CheckoutRequestID: "ws_CO_unknown", ResultCode: 0}
			Expect(reconciler.ProcessCallback(ctx, cb, rawPayload)).To(Succeed())
			Expect(auditRepo.entries).To(BeEmpty())
		})

		It("drops a callback without a checkout request id", func() {
			Expect(reconciler.ProcessCallback(ctx, &mpesadm.STKCallback{}, rawPayload)).To(Succeed())
		})
	})

	Describe("CheckStatus", func() {
		It("answers from the database once the booking is settled", func() {
			_, err := reconciler.Finalize(ctx, successOutcome(bookingpkg.ChannelWebhook))
			Expect(err).NotTo(HaveOccurred())

			status, err := reconciler.CheckStatus(ctx, 7, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Status).To(Equal(booking.StatusConfirmed))
			Expect(*status.ReceiptNumber).To(Equal("QGX12ABC34"))
			Expect(gateway.queryCalls).To(BeZero())
		})

		It("finalizes via the gateway query when it is conclusive", func() {
			gateway.queryResult = &mpesadm.QueryResult{
				Outcome:    mpesadm.OutcomeSuccess,
				ResultCode: "0",
				ResultDesc: "The service request is processed successfully.",
			}

			status, err := reconciler.CheckStatus(ctx, 7, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Status).To(Equal(booking.StatusConfirmed))
			Expect(gateway.queryCalls).To(Equal(1))
			Expect(repo.actionsFor(pending.ID)).To(ContainElement(paymentlog.ActionConfirmedViaQuery))
		})

		It("reports the failure reason when the query says failed", func() {
			gateway.queryResult = &mpesadm.QueryResult{
				Outcome:    mpesadm.OutcomeFailed,
				ResultCode: "1032",
				ResultDesc: "Request cancelled by user",
			}

			status, err := reconciler.CheckStatus(ctx, 7, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.PaymentStatus).To(Equal(booking.PaymentFailed))
			Expect(status.Message).To(ContainSubstring("cancelled"))
		})

		It("stays pending while the provider is still processing", func() {
			gateway.queryResult = &mpesadm.QueryResult{Outcome: mpesadm.OutcomePending}

			status, err := reconciler.CheckStatus(ctx, 7, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.PaymentStatus).To(Equal(booking.PaymentPending))
			Expect(status.Message).To(ContainSubstring("prompt on your phone"))
		})

		It("stays pending when the query itself fails", func() {
			gateway.queryError = internal.NewGatewayError(internal.ErrCodeNetworkError, "gateway unreachable")

			status, err := reconciler.CheckStatus(ctx, 7, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.PaymentStatus).To(Equal(booking.PaymentPending))
		})

		It("expires a booking whose payment window elapsed", func() {
			past := time.Now().Add(-time.Minute)
			pending.ExpiresAt = &past

			status, err := reconciler.CheckStatus(ctx, 7, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Status).To(Equal(booking.StatusExpired))
			Expect(status.Message).To(ContainSubstring("expired"))
			Expect(gateway.queryCalls).To(BeZero())
			Expect(repo.actionsFor(pending.ID)).To(ContainElement(paymentlog.ActionExpired))
		})

		It("hides other users' bookings", func() {
			_, err := reconciler.CheckStatus(ctx, 8, pending.ID)
			Expect(err).To(MatchError(internal.ErrBookingNotFound))
		})
	})

	Describe("ExpireBooking", func() {
		It("is idempotent", func() {
			past := time.Now().Add(-time.Minute)
			pending.ExpiresAt = &past

			applied, err := reconciler.ExpireBooking(ctx, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			applied, err = reconciler.ExpireBooking(ctx, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeFalse())
		})
	})
})
