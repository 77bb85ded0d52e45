package booking_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dojohq/booking-management/internal/core/datamodel/booking"
)

func TestBookingModel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Booking Model Suite")
}

var _ = Describe("Booking state machine", func() {
	var (
		b   *booking.Booking
		now time.Time
	)

	BeforeEach(func() {
		now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		b = &booking.Booking{
			BookingReference: "BK20250601AABBCCDD",
			UserID:           1,
			ClassID:          2,
			ScheduleID:       3,
			BookingType:      booking.TypeMonthly,
			Status:           booking.StatusPending,
			PaymentStatus:    booking.PaymentUnpaid,
			Amount:           1500,
		}
	})

	initiate := func() {
		Expect(b.InitiatePayment("ws_CO_1", now.Add(5*time.Minute), now)).To(BeTrue())
	}

	Describe("InitiatePayment", func() {
		It("moves an unpaid pending booking to payment pending", func() {
			initiate()
			Expect(b.PaymentStatus).To(Equal(booking.PaymentPending))
			Expect(*b.GatewayRequestID).To(Equal("ws_CO_1"))
			Expect(b.PaymentAttempts).To(Equal(1))
			Expect(b.ExpiresAt).NotTo(BeNil())
		})

		It("refuses to initiate twice", func() {
			initiate()
			Expect(b.InitiatePayment("ws_CO_2", now.Add(5*time.Minute), now)).To(BeFalse())
			Expect(*b.GatewayRequestID).To(Equal("ws_CO_1"))
		})
	})

	Describe("Confirm", func() {
		It("confirms with a matching request id", func() {
			initiate()
			applied, ok := b.Confirm("ws_CO_1", "QGR7TEST01", now.Add(time.Minute))
			Expect(applied).To(BeTrue())
			Expect(ok).To(BeTrue())
			Expect(b.Status).To(Equal(booking.StatusConfirmed))
			Expect(b.PaymentStatus).To(Equal(booking.PaymentPaid))
			Expect(*b.ReceiptNumber).To(Equal("QGR7TEST01"))
			Expect(b.ExpiresAt).To(BeNil())
		})

		It("is idempotent for the same request id", func() {
			initiate()
			b.Confirm("ws_CO_1", "QGR7TEST01", now)

			applied, ok := b.Confirm("ws_CO_1", "QGR7TEST01", now.Add(time.Minute))
			Expect(applied).To(BeFalse())
			Expect(ok).To(BeTrue())
			Expect(*b.ReceiptNumber).To(Equal("QGR7TEST01"))
		})

		It("rejects a mismatched request id", func() {
			initiate()
			applied, ok := b.Confirm("ws_CO_OTHER", "RCPT", now)
			Expect(applied).To(BeFalse())
			Expect(ok).To(BeFalse())
			Expect(b.Status).To(Equal(booking.StatusPending))
		})

		It("never mutates a cancelled booking", func() {
			initiate()
			Expect(b.Fail("ws_CO_1", "insufficient funds", now)).To(BeTrue())

			applied, ok := b.Confirm("ws_CO_1", "RCPT", now.Add(time.Minute))
			Expect(applied).To(BeFalse())
			Expect(ok).To(BeFalse())
			Expect(b.Status).To(Equal(booking.StatusCancelled))
			Expect(b.PaymentStatus).To(Equal(booking.PaymentFailed))
		})
	})

	Describe("Fail", func() {
		It("cancels a payment-pending booking", func() {
			initiate()
			Expect(b.Fail("ws_CO_1", "payment was cancelled", now)).To(BeTrue())
			Expect(b.Status).To(Equal(booking.StatusCancelled))
			Expect(b.Notes).To(ContainSubstring("payment was cancelled"))
		})

		It("is a no-op on a confirmed booking", func() {
			initiate()
			b.Confirm("ws_CO_1", "RCPT", now)
			Expect(b.Fail("ws_CO_1", "late failure", now)).To(BeFalse())
			Expect(b.Status).To(Equal(booking.StatusConfirmed))
		})
	})

	Describe("MarkExpired", func() {
		It("expires once the window elapsed", func() {
			initiate()
			Expect(b.MarkExpired(now.Add(6 * time.Minute))).To(BeTrue())
			Expect(b.Status).To(Equal(booking.StatusExpired))
			Expect(b.PaymentStatus).To(Equal(booking.PaymentFailed))
		})

		It("does nothing inside the window", func() {
			initiate()
			Expect(b.MarkExpired(now.Add(time.Minute))).To(BeFalse())
			Expect(b.Status).To(Equal(booking.StatusPending))
		})

		It("is idempotent", func() {
			initiate()
			Expect(b.MarkExpired(now.Add(6 * time.Minute))).To(BeTrue())
			Expect(b.MarkExpired(now.Add(7 * time.Minute))).To(BeFalse())
		})

		It("leaves a confirmed booking alone", func() {
			initiate()
			b.Confirm("ws_CO_1", "RCPT", now)
			Expect(b.MarkExpired(now.Add(6 * time.Minute))).To(BeFalse())
			Expect(b.Status).To(Equal(booking.StatusConfirmed))
		})
	})

	Describe("CancelByUser", func() {
		It("cancels a pending booking without refund", func() {
			Expect(b.CancelByUser("changed my mind", now)).To(BeTrue())
			Expect(b.Status).To(Equal(booking.StatusCancelled))
			Expect(b.PaymentStatus).To(Equal(booking.PaymentUnpaid))
		})

		It("marks a paid booking refunded", func() {
			initiate()
			b.Confirm("ws_CO_1", "RCPT", now)
			Expect(b.CancelByUser("", now.Add(time.Hour))).To(BeTrue())
			Expect(b.Status).To(Equal(booking.StatusCancelled))
			Expect(b.PaymentStatus).To(Equal(booking.PaymentRefunded))
		})

		It("cannot cancel an expired booking", func() {
			initiate()
			b.MarkExpired(now.Add(6 * time.Minute))
			Expect(b.CancelByUser("", now.Add(time.Hour))).To(BeFalse())
		})
	})

	Describe("NewReference", func() {
		It("embeds the booking date", func() {
			ref := booking.NewReference(now)
			Expect(ref).To(HavePrefix("BK20250601"))
			Expect(len(ref)).To(Equal(18))
		})

		It("does not repeat", func() {
			seen := map[string]bool{}
			for i := 0; i < 100; i++ {
				ref := booking.NewReference(now)
				Expect(seen[ref]).To(BeFalse())
				seen[ref] = true
			}
		})
	})
})
