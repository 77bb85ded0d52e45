package paymentlog

import (
	"encoding/json"
	"time"
)

// Audit actions recorded against a booking. The log is append-only: no
// entry is ever updated or deleted, which is what makes the payment
// flow replayable and lets a race between confirmation channels be
// reconstructed after the fact.
const (
	ActionBookingCreated     = "booking_created"
	ActionPaymentInitiated   = "payment_initiated"
	ActionSTKPushSent        = "stk_push_sent"
	ActionSTKPushFailed      = "stk_push_failed"
	ActionSTKPushRetried     = "stk_push_retried"
	ActionCallbackReceived   = "callback_received"
	ActionConfirmed          = "payment_confirmed"
	ActionConfirmedViaQuery  = "payment_confirmed_via_query"
	ActionFailed             = "payment_failed"
	ActionFailedViaQuery     = "payment_failed_via_query"
	ActionFinalizeNoOp       = "finalize_noop"
	ActionExpired            = "booking_expired"
	ActionCancelled          = "booking_cancelled"
	ActionFreeTrialConfirmed = "free_trial_confirmed"
)

// PaymentLog is one immutable audit entry. RawResponse stores the
// gateway payload verbatim for forensic replay.
type PaymentLog struct {
	ID               int64           `gorm:"primaryKey"`
	BookingID        int64           `gorm:"column:booking_id;not null;index"`
	GatewayRequestID *string         `gorm:"column:gateway_request_id;index"`
	Action           string          `gorm:"column:action;not null"`
	StatusCode       string          `gorm:"column:status_code"`
	RawResponse      json.RawMessage `gorm:"column:response_data;type:jsonb"`
	IPAddress        *string         `gorm:"column:ip_address"`
	UserAgent        string          `gorm:"column:user_agent"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentLog) TableName() string { return "payment_logs" }
