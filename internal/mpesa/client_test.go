package mpesa_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/cache"
	datamodel "github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
	"github.com/dojohq/booking-management/internal/mpesa"
)

func TestMpesa(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Mpesa Gateway Suite")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordedAttempt struct {
	bookingID int64
	attempt   int
	failed    bool
}

type stubAttemptRecorder struct {
	mu      sync.Mutex
	entries []recordedAttempt
}

func (r *stubAttemptRecorder) RecordPushAttempt(bookingID int64, attempt int, attemptErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedAttempt{bookingID: bookingID, attempt: attempt, failed: attemptErr != nil})
}

func (r *stubAttemptRecorder) recorded() []recordedAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedAttempt(nil), r.entries...)
}

func testConfig(apiURL string) internal.MpesaConfig {
	cfg := internal.MpesaConfig{
		Environment:    "sandbox",
		APIURL:         apiURL,
		ShortCode:      "174379",
		Passkey:        "test-passkey",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		CallbackURL:    "https://example.com/api/v1/payments/mpesa/callback",
	}
	cfg.ApplyDefaults()
	return cfg
}

var _ = Describe("NormalizePhone", func() {
	It("converts local format to international", func() {
		Expect(mpesa.NormalizePhone("0712345678")).To(Equal("254712345678"))
	})

	It("keeps international format unchanged", func() {
		Expect(mpesa.NormalizePhone("254712345678")).To(Equal("254712345678"))
	})

	It("prefixes bare nine-digit numbers", func() {
		Expect(mpesa.NormalizePhone("712345678")).To(Equal("254712345678"))
	})

	It("strips punctuation and spaces", func() {
		Expect(mpesa.NormalizePhone("+254 712-345-678")).To(Equal("254712345678"))
	})

	It("rejects numbers of the wrong length", func() {
		Expect(mpesa.NormalizePhone("07123")).To(BeEmpty())
		Expect(mpesa.NormalizePhone("")).To(BeEmpty())
	})
})

var _ = Describe("CallbackSignature", func() {
	It("verifies a signature it produced", func() {
		body := []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`)
		sig := mpesa.CallbackSignature("passkey", body)
		Expect(mpesa.VerifyCallbackSignature("passkey", body, sig)).To(BeTrue())
	})

	It("rejects a signature computed with another key", func() {
		body := []byte(`{"Body":{}}`)
		sig := mpesa.CallbackSignature("other-key", body)
		Expect(mpesa.VerifyCallbackSignature("passkey", body, sig)).To(BeFalse())
	})
})

var _ = Describe("OutcomeForResultCode", func() {
	It("treats zero as success", func() {
		Expect(mpesa.OutcomeForResultCode("0")).To(Equal(datamodel.OutcomeSuccess))
	})

	It("treats known failure codes as conclusive", func() {
		for _, code := range []string{"1", "1032", "1037", "1001", "2001"} {
			Expect(mpesa.OutcomeForResultCode(code)).To(Equal(datamodel.OutcomeFailed), "code %s", code)
		}
	})

	It("keeps the still-processing code pending", func() {
		Expect(mpesa.OutcomeForResultCode("500.001.1001")).To(Equal(datamodel.OutcomePending))
	})

	It("keeps unknown codes pending", func() {
		Expect(mpesa.OutcomeForResultCode("9999")).To(Equal(datamodel.OutcomePending))
	})
})

var _ = Describe("Client", func() {
	var (
		store  *cache.Memory
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		store = cache.NewMemory()
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)
	})

	tokenHandler := func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3599",
		})
	}

	Describe("AccessToken", func() {
		It("fetches and caches the token", func() {
			var calls int64
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt64(&calls, 1)
				Expect(r.Header.Get("Authorization")).To(HavePrefix("Basic "))
				tokenHandler(w, r)
			}))
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			token, err := client.AccessToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("test-token"))

			_, err = client.AccessToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(atomic.LoadInt64(&calls)).To(Equal(int64(1)))
		})

		It("does not retry credential rejections", func() {
			var calls int64
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				atomic.AddInt64(&calls, 1)
				w.WriteHeader(http.StatusUnauthorized)
			}))
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			_, err := client.AccessToken(ctx)
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeAuthFailed))
			Expect(atomic.LoadInt64(&calls)).To(Equal(int64(1)))
		})

		It("retries transient server errors", func() {
			var calls int64
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt64(&calls, 1) == 1 {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				tokenHandler(w, r)
			}))
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			token, err := client.AccessToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("test-token"))
			Expect(atomic.LoadInt64(&calls)).To(Equal(int64(2)))
		})
	})

	Describe("STKPush", func() {
		It("sends the push and caches the initiation context", func() {
			var pushBody map[string]interface{}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch {
				case r.URL.Path == "/oauth/v1/generate":
					tokenHandler(w, r)
				case r.URL.Path == "/mpesa/stkpush/v1/processrequest":
					Expect(r.Header.Get("Authorization")).To(Equal("Bearer test-token"))
					Expect(json.NewDecoder(r.Body).Decode(&pushBody)).To(Succeed())
					json.NewEncoder(w).Encode(map[string]string{
						"MerchantRequestID": "mr-1",
						"CheckoutRequestID": "ws_CO_123",
						"ResponseCode":      "0",
						"CustomerMessage":   "Success. Request accepted for processing",
					})
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			}))
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			result, err := client.STKPush(ctx, &datamodel.STKPushRequest{
				PhoneNumber: "0712345678",
				Amount:      1500,
				Reference:   "BK20240101ABCD1234",
				Description: "Class booking",
			}, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.CheckoutRequestID).To(Equal("ws_CO_123"))
			Expect(result.PhoneNumber).To(Equal("254712345678"))

			Expect(pushBody["PhoneNumber"]).To(Equal("254712345678"))
			Expect(pushBody["Amount"]).To(Equal("1500"))
			Expect(pushBody["TransactionType"]).To(Equal("CustomerPayBillOnline"))
			Expect(pushBody["AccountReference"]).To(Equal("BK20240101ABCD1234"))

			sc, ok := client.PushContext("ws_CO_123")
			Expect(ok).To(BeTrue())
			Expect(sc.BookingID).To(Equal(int64(42)))
			Expect(sc.Amount).To(Equal(int64(1500)))
		})

		It("rejects an invalid phone before any network call", func() {
			client := mpesa.NewClient(testConfig("http://127.0.0.1:0"), store, nil, testLogger())

			_, err := client.STKPush(ctx, &datamodel.STKPushRequest{
				PhoneNumber: "12345",
				Amount:      100,
				Reference:   "BK1",
			}, 1)
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidPhone))
		})

		It("records every attempt when the provider stays down", func() {
			var pushCalls int64
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/oauth/v1/generate" {
					tokenHandler(w, r)
					return
				}
				atomic.AddInt64(&pushCalls, 1)
				w.WriteHeader(http.StatusInternalServerError)
			}))
			DeferCleanup(server.Close)

			recorder := &stubAttemptRecorder{}
			client := mpesa.NewClient(testConfig(server.URL), store, recorder, testLogger())

			_, err := client.STKPush(ctx, &datamodel.STKPushRequest{
				PhoneNumber: "0712345678",
				Amount:      1500,
				Reference:   "BK1",
			}, 9)
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeNetworkError))

			// MaxRetries caps total attempts, so a budget of three means
			// one initiation plus two retries against the endpoint.
			Expect(atomic.LoadInt64(&pushCalls)).To(Equal(int64(3)))
			entries := recorder.recorded()
			Expect(entries).To(HaveLen(3))
			for i, e := range entries {
				Expect(e.bookingID).To(Equal(int64(9)))
				Expect(e.attempt).To(Equal(i + 1))
				Expect(e.failed).To(BeTrue())
			}
		})

		It("surfaces a provider rejection without retrying", func() {
			var pushCalls int64
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/oauth/v1/generate" {
					tokenHandler(w, r)
					return
				}
				atomic.AddInt64(&pushCalls, 1)
				json.NewEncoder(w).Encode(map[string]string{
					"errorCode":    "400.002.02",
					"errorMessage": "Bad Request - Invalid Amount",
				})
			}))
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			_, err := client.STKPush(ctx, &datamodel.STKPushRequest{
				PhoneNumber: "0712345678",
				Amount:      100,
				Reference:   "BK1",
			}, 1)
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeGatewayRejected))
			Expect(atomic.LoadInt64(&pushCalls)).To(Equal(int64(1)))
		})
	})

	Describe("QueryStatus", func() {
		queryServer := func(response map[string]string) *httptest.Server {
			return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/oauth/v1/generate" {
					tokenHandler(w, r)
					return
				}
				json.NewEncoder(w).Encode(response)
			}))
		}

		It("maps a zero result code to success", func() {
			server := queryServer(map[string]string{
				"ResponseCode": "0",
				"ResultCode":   "0",
				"ResultDesc":   "The service request is processed successfully.",
			})
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			result, err := client.QueryStatus(ctx, "ws_CO_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(datamodel.OutcomeSuccess))
			Expect(result.Raw).NotTo(BeEmpty())
		})

		It("maps a cancellation to a conclusive failure", func() {
			server := queryServer(map[string]string{
				"ResponseCode": "0",
				"ResultCode":   "1032",
				"ResultDesc":   "Request cancelled by user",
			})
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			result, err := client.QueryStatus(ctx, "ws_CO_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(datamodel.OutcomeFailed))
			Expect(result.ResultCode).To(Equal("1032"))
		})

		It("keeps a still-processing error envelope pending", func() {
			server := queryServer(map[string]string{
				"errorCode":    "500.001.1001",
				"errorMessage": "The transaction is being processed",
			})
			DeferCleanup(server.Close)

			client := mpesa.NewClient(testConfig(server.URL), store, nil, testLogger())

			result, err := client.QueryStatus(ctx, "ws_CO_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(datamodel.OutcomePending))
		})
	})
})

var _ = Describe("FailureMessage", func() {
	It("prefers the mapped customer wording", func() {
		Expect(mpesa.FailureMessage("1", "DS timeout")).To(ContainSubstring("insufficient funds"))
	})

	It("falls back to the provider description", func() {
		Expect(mpesa.FailureMessage("4242", "Something odd")).To(Equal("Something odd"))
	})
})
