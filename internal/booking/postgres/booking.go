package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	bookingpkg "github.com/dojohq/booking-management/internal/booking"
	"github.com/dojohq/booking-management/internal/core/datamodel/booking"
	"github.com/dojohq/booking-management/internal/core/datamodel/paymentlog"
)

var activeStatuses = []string{booking.StatusPending, booking.StatusConfirmed}

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) bookingpkg.RepositoryAPI {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(b *booking.Booking, logs ...*paymentlog.PaymentLog) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		for _, log := range logs {
			log.BookingID = b.ID
			if err := tx.Create(log).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BookingRepository) GetByID(id int64) (*booking.Booking, error) {
	var b booking.Booking
	err := r.db.First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) GetByGatewayRequestID(requestID string) (*booking.Booking, error) {
	var b booking.Booking
	err := r.db.Where("gateway_request_id = ?", requestID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) Update(b *booking.Booking) error {
	return r.db.Save(b).Error
}

func (r *BookingRepository) ListByUser(userID int64, limit int) ([]*booking.Booking, error) {
	var list []*booking.Booking
	err := r.db.Where("user_id = ?", userID).Order("booked_at DESC").Limit(limit).Find(&list).Error
	return list, err
}

func (r *BookingRepository) CountRecentByUser(userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&booking.Booking{}).
		Where("user_id = ? AND booked_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *BookingRepository) FindActiveDuplicate(userID, classID, scheduleID int64) (*booking.Booking, error) {
	var b booking.Booking
	err := r.db.Where("user_id = ? AND class_id = ? AND schedule_id = ? AND status IN ?",
		userID, classID, scheduleID, activeStatuses).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) CountActiveForSchedule(classID, scheduleID int64) (int64, error) {
	var count int64
	err := r.db.Model(&booking.Booking{}).
		Where("class_id = ? AND schedule_id = ? AND status IN ?", classID, scheduleID, activeStatuses).
		Count(&count).Error
	return count, err
}

func (r *BookingRepository) CountFreeTrialsByUser(userID, classID int64) (int64, error) {
	var count int64
	err := r.db.Model(&booking.Booking{}).
		Where("user_id = ? AND class_id = ? AND booking_type = ? AND status != ?",
			userID, classID, booking.TypeFreeTrial, booking.StatusCancelled).
		Count(&count).Error
	return count, err
}

func (r *BookingRepository) GetClass(classID int64) (*booking.KarateClass, error) {
	var c booking.KarateClass
	err := r.db.First(&c, classID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *BookingRepository) GetSchedule(scheduleID int64) (*booking.ClassSchedule, error) {
	var s booking.ClassSchedule
	err := r.db.First(&s, scheduleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BookingRepository) AddToWaitingList(entry *booking.WaitingList) error {
	// unique index on (user_id, class_id, schedule_id); re-joining is a no-op
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error
}

// FinalizeByRequestID serializes the confirmation channels: the row is
// locked for the duration of the transaction, so the second channel
// re-reads a terminal booking and its mutation becomes a no-op.
func (r *BookingRepository) FinalizeByRequestID(requestID string, mutate func(b *booking.Booking) ([]*paymentlog.PaymentLog, error)) (*booking.Booking, error) {
	var result *booking.Booking
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var b booking.Booking
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("gateway_request_id = ?", requestID).
			First(&b).Error
		if err != nil {
			return err
		}
		if err := r.applyMutation(tx, &b, mutate); err != nil {
			return err
		}
		result = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *BookingRepository) FinalizeByID(id int64, mutate func(b *booking.Booking) ([]*paymentlog.PaymentLog, error)) (*booking.Booking, error) {
	var result *booking.Booking
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var b booking.Booking
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, id).Error
		if err != nil {
			return err
		}
		if err := r.applyMutation(tx, &b, mutate); err != nil {
			return err
		}
		result = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *BookingRepository) applyMutation(tx *gorm.DB, b *booking.Booking, mutate func(b *booking.Booking) ([]*paymentlog.PaymentLog, error)) error {
	logs, err := mutate(b)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}
	if err := tx.Save(b).Error; err != nil {
		return err
	}
	for _, log := range logs {
		log.BookingID = b.ID
		if err := tx.Create(log).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *BookingRepository) DuePaymentExpiries(now time.Time, limit int) ([]*booking.Booking, error) {
	var list []*booking.Booking
	err := r.db.
		Where("payment_status = ? AND expires_at IS NOT NULL AND expires_at < ?", booking.PaymentPending, now).
		Where("status = ?", booking.StatusPending).
		Order("expires_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
