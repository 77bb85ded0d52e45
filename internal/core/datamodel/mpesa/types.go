package mpesa

import (
	"encoding/json"
	"errors"
)

// Outcome is the reconciler-facing verdict for one push-payment attempt.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// STKPushRequest is the local request before any network call. Phone is
// normalized and amount validated by the client prior to contacting the
// provider.
type STKPushRequest struct {
	PhoneNumber string
	Amount      int64
	Reference   string
	Description string
}

func (r *STKPushRequest) Validate() error {
	if r.PhoneNumber == "" {
		return errors.New("phone number is required")
	}
	if r.Amount < 1 {
		return errors.New("amount must be at least KES 1")
	}
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	return nil
}

// STKPushResult is the provider's acceptance of a push request. The
// CheckoutRequestID is the correlation id both confirmation channels
// key on.
type STKPushResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	PhoneNumber       string
	CustomerMessage   string
}

// QueryResult is one status-query response. Raw keeps the provider
// payload verbatim for the audit log.
type QueryResult struct {
	Outcome       Outcome
	ResultCode    string
	ResultDesc    string
	ReceiptNumber string
	Raw           json.RawMessage
}

// STKContext is the initiation context cached under the checkout request
// id for the duration of the payment window, used to correlate and
// sanity-check later confirmations.
type STKContext struct {
	MerchantRequestID string `json:"merchant_request_id"`
	PhoneNumber       string `json:"phone"`
	Amount            int64  `json:"amount"`
	Reference         string `json:"reference"`
	BookingID         int64  `json:"booking_id"`
}

// CallbackEnvelope is the shape Daraja POSTs to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// ReceiptNumber extracts the MpesaReceiptNumber metadata item, if any.
func (c *STKCallback) ReceiptNumber() string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}
