package booking

import (
	"encoding/json"
	"io"
	"net/http"

	mpesadm "github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
	"github.com/dojohq/booking-management/internal/transport"
)

const maxCallbackBody = 64 << 10

// CallbackEnqueuer persists one raw callback for asynchronous
// processing.
type CallbackEnqueuer interface {
	Enqueue(payload json.RawMessage) error
}

// WebhookHandler receives gateway callbacks. The provider is always
// acknowledged immediately; the payload is persisted to the work queue
// and settled by workers, so a crash after the ack loses nothing.
type WebhookHandler struct {
	*transport.BaseHandler
	queue CallbackEnqueuer
}

func NewWebhookHandler(queue CallbackEnqueuer) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: transport.NewBaseHandler(nil),
		queue:       queue,
	}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *WebhookHandler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.Logger.Warn("failed to read callback body", "error", err)
		h.ack(w)
		return
	}

	var envelope mpesadm.CallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Body.STKCallback.CheckoutRequestID == "" {
		h.Logger.Warn("malformed callback payload, dropping",
			"remote_addr", r.RemoteAddr, "size", len(body))
		h.ack(w)
		return
	}

	if err := h.queue.Enqueue(body); err != nil {
		// still ack: the provider retries on its own schedule, and a
		// failed enqueue will be covered by the next delivery or the poll
		h.Logger.Error("failed to enqueue callback",
			"checkout_request_id", envelope.Body.STKCallback.CheckoutRequestID, "error", err)
		h.ack(w)
		return
	}

	h.Logger.Info("callback accepted",
		"checkout_request_id", envelope.Body.STKCallback.CheckoutRequestID,
		"result_code", envelope.Body.STKCallback.ResultCode)
	h.ack(w)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	h.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}
