package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookDelivery is one queued tenant notification (transactional outbox).
// The row is written inside the same DB transaction as the state change that
// produced the event; actual HTTP delivery happens asynchronously in the
// webhook dispatcher after commit.
type WebhookDelivery struct {
	ID       int    `gorm:"primary_key;index:idx_webhook_dispatch,priority:3" json:"id"`
	MasterId string `gorm:"size:64;not null;index" json:"master_id"`
	Event    string `gorm:"size:100;not null" json:"event"`
	Payload  []byte `gorm:"type:blob" json:"payload"`

	Status        string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_webhook_dispatch,priority:1" json:"status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time `gorm:"index;index:idx_webhook_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt      *time.Time `gorm:"index" json:"locked_at"`
	LockedBy      *string    `gorm:"size:100" json:"locked_by"`
	LastError     *string    `gorm:"type:text" json:"last_error"`
	DeliveredAt   *time.Time `gorm:"index" json:"delivered_at"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}

// PublishWebhook queues a tenant event notification. It writes the delivery
// row inside the caller's DB transaction but does NOT send HTTP. Sending is
// performed asynchronously by the webhook dispatcher after commit, so a
// failed delivery can never roll back the state transition that produced it.
func PublishWebhook(ctx context.Context, tx *gorm.DB, masterId string, event string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	record := WebhookDelivery{
		MasterId:      masterId,
		Event:         event,
		Payload:       payload,
		Status:        OutboxDeliveryStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
