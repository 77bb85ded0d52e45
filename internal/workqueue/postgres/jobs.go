package postgres

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dojohq/booking-management/internal/core/datamodel/webhookjob"
	workqueuepkg "github.com/dojohq/booking-management/internal/workqueue"
)

// claimVisibility bounds how long a job may sit in processing before it
// is considered abandoned by a crashed consumer and put back in line.
const claimVisibility = 5 * time.Minute

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) workqueuepkg.RepositoryAPI {
	return &JobRepository{db: db}
}

func (r *JobRepository) Enqueue(job *webhookjob.WebhookJob) error {
	return r.db.Create(job).Error
}

// requeueStale returns processing jobs whose claim outlived the
// visibility window to pending. A consumer that crashed between
// claiming and acking leaves its jobs in processing forever otherwise.
func requeueStale(tx *gorm.DB, now time.Time) error {
	return tx.Model(&webhookjob.WebhookJob{}).
		Where("status = ? AND updated_at < ?", webhookjob.StatusProcessing, now.Add(-claimVisibility)).
		Updates(map[string]interface{}{
			"status":      webhookjob.StatusPending,
			"next_run_at": now,
		}).Error
}

// ClaimBatch flips a batch of due pending jobs to processing under
// SKIP LOCKED, so concurrent consumers never claim the same job.
// Abandoned claims past the visibility window are requeued first.
func (r *JobRepository) ClaimBatch(now time.Time, limit int) ([]*webhookjob.WebhookJob, error) {
	var claimed []*webhookjob.WebhookJob
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := requeueStale(tx, now); err != nil {
			return err
		}
		var jobs []*webhookjob.WebhookJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_run_at <= ?", webhookjob.StatusPending, now).
			Order("next_run_at ASC").
			Limit(limit).
			Find(&jobs).Error
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		if err := tx.Model(&webhookjob.WebhookJob{}).
			Where("id IN ?", ids).
			Update("status", webhookjob.StatusProcessing).Error; err != nil {
			return err
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *JobRepository) MarkDone(id int64) error {
	return r.db.Model(&webhookjob.WebhookJob{}).
		Where("id = ?", id).
		Update("status", webhookjob.StatusDone).Error
}

func (r *JobRepository) MarkRetry(id int64, attempts int, lastError string, nextRunAt time.Time) error {
	return r.db.Model(&webhookjob.WebhookJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      webhookjob.StatusPending,
			"attempts":    attempts,
			"last_error":  lastError,
			"next_run_at": nextRunAt,
		}).Error
}

func (r *JobRepository) MarkDead(id int64, attempts int, lastError string) error {
	return r.db.Model(&webhookjob.WebhookJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     webhookjob.StatusDead,
			"attempts":   attempts,
			"last_error": lastError,
		}).Error
}
