package booking_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	bookingpkg "github.com/dojohq/booking-management/internal/booking"
)

type mockEnqueuer struct {
	payloads []json.RawMessage
	err      error
}

func (m *mockEnqueuer) Enqueue(payload json.RawMessage) error {
	if m.err != nil {
		return m.err
	}
	m.payloads = append(m.payloads, payload)
	return nil
}

var _ = Describe("Webhook Handler", func() {
	var (
		queue   *mockEnqueuer
		handler *bookingpkg.WebhookHandler
	)

	BeforeEach(func() {
		queue = &mockEnqueuer{}
		handler = bookingpkg.NewWebhookHandler(queue)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/callback", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleMpesaCallback(rec, req)
		return rec
	}

	expectAck := func(rec *httptest.ResponseRecorder) {
		Expect(rec.Code).To(Equal(http.StatusOK))
		var ack map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
		Expect(ack["ResultCode"]).To(BeEquivalentTo(0))
		Expect(ack["ResultDesc"]).To(Equal("Accepted"))
	}

	It("acknowledges and enqueues a well-formed callback", func() {
		body := `{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`
		rec := post(body)

		expectAck(rec)
		Expect(queue.payloads).To(HaveLen(1))
		Expect(string(queue.payloads[0])).To(Equal(body))
	})

	It("acknowledges but drops a malformed payload", func() {
		rec := post(`{"Body":`)
		expectAck(rec)
		Expect(queue.payloads).To(BeEmpty())
	})

	It("acknowledges but drops a payload without a checkout request id", func() {
		rec := post(`{"Body":{"stkCallback":{"ResultCode":0}}}`)
		expectAck(rec)
		Expect(queue.payloads).To(BeEmpty())
	})

	It("still acknowledges when the enqueue fails", func() {
		queue.err = errors.New("queue unavailable")
		rec := post(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)
		expectAck(rec)
	})
})
