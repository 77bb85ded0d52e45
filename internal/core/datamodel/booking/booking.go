package booking

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Booking status values. Confirmed, Cancelled and Expired are terminal:
// once one of them is reached no further transition is permitted.
const (
	StatusPending   = "Pending"
	StatusConfirmed = "Confirmed"
	StatusCancelled = "Cancelled"
	StatusExpired   = "Expired"
	StatusCompleted = "Completed"
)

const (
	PaymentUnpaid   = "Unpaid"
	PaymentPending  = "Pending"
	PaymentPaid     = "Paid"
	PaymentFailed   = "Failed"
	PaymentRefunded = "Refunded"
)

const (
	TypeFreeTrial = "Free Trial"
	TypeMonthly   = "Monthly"
	TypeDropIn    = "Drop-in"
)

type Booking struct {
	ID               int64      `gorm:"primaryKey"`
	BookingReference string     `gorm:"column:booking_reference;not null;uniqueIndex"`
	UserID           int64      `gorm:"column:user_id;not null;index:idx_bookings_user_status"`
	ClassID          int64      `gorm:"column:class_id;not null;index:idx_bookings_class_status"`
	ScheduleID       int64      `gorm:"column:schedule_id;not null"`
	BookingType      string     `gorm:"column:booking_type;not null;default:Monthly"`
	Status           string     `gorm:"column:status;not null;default:Pending;index:idx_bookings_user_status;index:idx_bookings_class_status"`
	PaymentStatus    string     `gorm:"column:payment_status;not null;default:Unpaid;index:idx_bookings_payment_expiry"`
	Amount           int64      `gorm:"column:amount;not null"`
	PhoneNumber      string     `gorm:"column:phone_number"`
	GatewayRequestID *string    `gorm:"column:gateway_request_id;uniqueIndex"`
	ReceiptNumber    *string    `gorm:"column:receipt_number"`
	PaymentAttempts  int        `gorm:"column:payment_attempts;default:0"`
	LastAttemptAt    *time.Time `gorm:"column:last_payment_attempt_at"`
	ExpiresAt        *time.Time `gorm:"column:expires_at;index:idx_bookings_payment_expiry"`
	ConfirmedAt      *time.Time `gorm:"column:confirmed_at"`
	CancelledAt      *time.Time `gorm:"column:cancelled_at"`
	Notes            string     `gorm:"column:notes"`
	BookedAt         time.Time  `gorm:"column:booked_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Booking) TableName() string { return "bookings" }

// NewReference generates an opaque booking reference: BK + date + 8 hex.
func NewReference(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to the timestamp alone rather than panic.
		return fmt.Sprintf("BK%s%08X", now.Format("20060102"), now.UnixNano()&0xFFFFFFFF)
	}
	return fmt.Sprintf("BK%s%s", now.Format("20060102"), hex.EncodeToString(buf))
}

// IsTerminal reports whether the booking has reached a state the
// reconciler must never mutate again.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusConfirmed, StatusCancelled, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

func (b *Booking) IsPaymentExpired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// InitiatePayment records a gateway request id and payment deadline.
// Guard: status=Pending, payment not yet initiated.
func (b *Booking) InitiatePayment(requestID string, expiresAt time.Time, now time.Time) bool {
	if b.Status != StatusPending || b.PaymentStatus != PaymentUnpaid {
		return false
	}
	b.PaymentStatus = PaymentPending
	b.GatewayRequestID = &requestID
	b.ExpiresAt = &expiresAt
	b.PaymentAttempts++
	b.LastAttemptAt = &now
	return true
}

// Confirm moves the booking to Confirmed/Paid. Idempotent: confirming a
// booking already confirmed with the same request id reports success
// without mutating anything. Any other guard failure is a no-op.
func (b *Booking) Confirm(requestID, receiptNumber string, now time.Time) (applied, ok bool) {
	if b.Status == StatusConfirmed && b.GatewayRequestID != nil && *b.GatewayRequestID == requestID {
		return false, true
	}
	if b.IsTerminal() {
		return false, false
	}
	if b.Status != StatusPending || b.PaymentStatus != PaymentPending {
		return false, false
	}
	if b.GatewayRequestID == nil || *b.GatewayRequestID != requestID {
		return false, false
	}
	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentPaid
	b.ReceiptNumber = &receiptNumber
	b.ConfirmedAt = &now
	b.ExpiresAt = nil
	return true, true
}

// Fail moves the booking to Cancelled/Failed after a conclusive gateway
// failure. Same guard as Confirm; terminal states are left untouched.
func (b *Booking) Fail(requestID, reason string, now time.Time) bool {
	if b.IsTerminal() {
		return false
	}
	if b.Status != StatusPending || b.PaymentStatus != PaymentPending {
		return false
	}
	if b.GatewayRequestID == nil || *b.GatewayRequestID != requestID {
		return false
	}
	b.Status = StatusCancelled
	b.PaymentStatus = PaymentFailed
	b.CancelledAt = &now
	b.appendNote("Payment failed: " + reason)
	return true
}

// FailInitiation cancels a booking whose push initiation never
// succeeded, so it is not left dangling in Pending/Unpaid.
func (b *Booking) FailInitiation(reason string, now time.Time) bool {
	if b.IsTerminal() || b.Status != StatusPending {
		return false
	}
	b.Status = StatusCancelled
	b.PaymentStatus = PaymentFailed
	b.CancelledAt = &now
	b.appendNote("Payment initiation failed: " + reason)
	return true
}

// MarkExpired expires a booking whose payment window elapsed. Idempotent
// on an already-expired booking.
func (b *Booking) MarkExpired(now time.Time) bool {
	if b.Status == StatusExpired {
		return false
	}
	if b.IsTerminal() {
		return false
	}
	if b.PaymentStatus != PaymentPending || !b.IsPaymentExpired(now) {
		return false
	}
	b.Status = StatusExpired
	b.PaymentStatus = PaymentFailed
	b.appendNote("Expired due to payment timeout")
	return true
}

// CancelByUser cancels a Pending or Confirmed booking. A paid booking is
// marked Refunded; the refund itself is handled by an external
// collaborator.
func (b *Booking) CancelByUser(reason string, now time.Time) bool {
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return false
	}
	b.Status = StatusCancelled
	if b.PaymentStatus == PaymentPaid {
		b.PaymentStatus = PaymentRefunded
	}
	b.CancelledAt = &now
	if reason != "" {
		b.appendNote("Cancellation reason: " + reason)
	}
	return true
}

func (b *Booking) appendNote(note string) {
	if b.Notes == "" {
		b.Notes = note
		return
	}
	b.Notes = b.Notes + "\n" + note
}

// WaitingList entries are created when a class is at capacity.
type WaitingList struct {
	ID         int64     `gorm:"primaryKey"`
	UserID     int64     `gorm:"column:user_id;not null;uniqueIndex:idx_waitlist_entry"`
	ClassID    int64     `gorm:"column:class_id;not null;uniqueIndex:idx_waitlist_entry"`
	ScheduleID int64     `gorm:"column:schedule_id;not null;uniqueIndex:idx_waitlist_entry"`
	Notified   bool      `gorm:"column:notified;default:false"`
	AddedAt    time.Time `gorm:"column:added_at;autoCreateTime"`
}

func (WaitingList) TableName() string { return "waiting_lists" }
