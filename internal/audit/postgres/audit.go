package postgres

import (
	"gorm.io/gorm"

	auditpkg "github.com/dojohq/booking-management/internal/audit"
	"github.com/dojohq/booking-management/internal/core/datamodel/paymentlog"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) auditpkg.RepositoryAPI {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(entry *paymentlog.PaymentLog) error {
	return r.db.Create(entry).Error
}

func (r *AuditRepository) ListByBooking(bookingID int64) ([]*paymentlog.PaymentLog, error) {
	var logs []*paymentlog.PaymentLog
	err := r.db.Where("booking_id = ?", bookingID).Order("created_at ASC, id ASC").Find(&logs).Error
	return logs, err
}

func (r *AuditRepository) ListByGatewayRequestID(requestID string) ([]*paymentlog.PaymentLog, error) {
	var logs []*paymentlog.PaymentLog
	err := r.db.Where("gateway_request_id = ?", requestID).Order("created_at ASC, id ASC").Find(&logs).Error
	return logs, err
}
