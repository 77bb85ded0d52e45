package webhookjob

import (
	"encoding/json"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusDead       = "dead"
)

// WebhookJob is one durable gateway callback. The webhook endpoint
// acknowledges the provider immediately and persists the payload here;
// workers drain the table with retries, so a crash between ack and
// processing loses nothing.
type WebhookJob struct {
	ID        int64           `gorm:"primaryKey"`
	Payload   json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Status    string          `gorm:"column:status;not null;default:pending;index:idx_webhook_jobs_claim"`
	Attempts  int             `gorm:"column:attempts;default:0"`
	LastError string          `gorm:"column:last_error"`
	NextRunAt time.Time       `gorm:"column:next_run_at;not null;index:idx_webhook_jobs_claim"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (WebhookJob) TableName() string { return "webhook_jobs" }
