package audit_test

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/audit"
	"github.com/dojohq/booking-management/internal/core/datamodel/paymentlog"
)

func TestAudit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Suite")
}

type mockAuditRepository struct {
	entries   []*paymentlog.PaymentLog
	appendErr error
}

func (m *mockAuditRepository) Append(entry *paymentlog.PaymentLog) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) ListByBooking(bookingID int64) ([]*paymentlog.PaymentLog, error) {
	var out []*paymentlog.PaymentLog
	for _, e := range m.entries {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditRepository) ListByGatewayRequestID(requestID string) ([]*paymentlog.PaymentLog, error) {
	var out []*paymentlog.PaymentLog
	for _, e := range m.entries {
		if e.GatewayRequestID != nil && *e.GatewayRequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var _ = Describe("Service", func() {
	var (
		repo    *mockAuditRepository
		service *audit.Service
	)

	BeforeEach(func() {
		repo = &mockAuditRepository{}
		service = audit.NewService(repo, testLogger())
	})

	Describe("Record", func() {
		It("persists the entry with optional fields as pointers", func() {
			service.Record(audit.Entry{
				BookingID:        7,
				GatewayRequestID: "ws_CO_1",
				Action:           paymentlog.ActionCallbackReceived,
				StatusCode:       "0",
				IPAddress:        "10.0.0.1",
			})

			Expect(repo.entries).To(HaveLen(1))
			e := repo.entries[0]
			Expect(e.BookingID).To(Equal(int64(7)))
			Expect(*e.GatewayRequestID).To(Equal("ws_CO_1"))
			Expect(*e.IPAddress).To(Equal("10.0.0.1"))
		})

		It("swallows repository failures", func() {
			repo.appendErr = errors.New("connection reset")
			Expect(func() {
				service.Record(audit.Entry{BookingID: 1, Action: paymentlog.ActionCancelled})
			}).NotTo(Panic())
		})
	})

	Describe("RecordPushAttempt", func() {
		It("writes one initiation entry followed by retry entries", func() {
			service.RecordPushAttempt(3, 1, errors.New("dial tcp: connection refused"))
			service.RecordPushAttempt(3, 2, errors.New("dial tcp: connection refused"))
			service.RecordPushAttempt(3, 3, internal.NewGatewayError(internal.ErrCodeGatewayRejected, "rejected"))

			Expect(repo.entries).To(HaveLen(3))
			Expect(repo.entries[0].Action).To(Equal(paymentlog.ActionPaymentInitiated))
			Expect(repo.entries[0].StatusCode).To(Equal(string(internal.ErrCodeNetworkError)))
			Expect(repo.entries[1].Action).To(Equal(paymentlog.ActionSTKPushRetried))
			Expect(repo.entries[2].Action).To(Equal(paymentlog.ActionSTKPushRetried))
			Expect(repo.entries[2].StatusCode).To(Equal(string(internal.ErrCodeGatewayRejected)))
		})

		It("marks a successful attempt OK", func() {
			service.RecordPushAttempt(5, 1, nil)

			Expect(repo.entries).To(HaveLen(1))
			Expect(repo.entries[0].Action).To(Equal(paymentlog.ActionPaymentInitiated))
			Expect(repo.entries[0].StatusCode).To(Equal("OK"))
		})
	})
})
