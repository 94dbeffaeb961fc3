package workflow

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/webhook"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookDispatcher drains the webhook_deliveries outbox: claims due rows,
// signs and POSTs the envelope to the master's endpoint, and schedules
// retries with exponential backoff. Delivery is at-least-once; tenants
// dedupe on (event, data.collection_id) if they need exactly-once.
type WebhookDispatcher struct {
	DB             *gorm.DB
	Logger         *logrus.Logger
	Sender         webhook.Sender
	DispatcherID   string
	BatchSize      int
	PollInterval   time.Duration
	LockTTL        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewWebhookDispatcher(db *gorm.DB, logger *logrus.Logger, sender webhook.Sender) *WebhookDispatcher {
	return &WebhookDispatcher{
		DB:             db,
		Logger:         logger,
		Sender:         sender,
		DispatcherID:   "webhook-" + time.Now().Format("20060102-150405.000"),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTTL:        30 * time.Second,
		MaxAttempts:    8,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
	}
}

func (d *WebhookDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// dispatchOnce claims a batch with SKIP LOCKED and delivers each row. Rows
// stuck in PROCESSING past the lock TTL are reclaimed; a crashed dispatcher
// never strands deliveries.
func (d *WebhookDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTTL)

	var claimed []models.WebhookDelivery
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(
				"(status IN (?, ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?))"+
					" OR (status = ? AND locked_at <= ?)",
				models.OutboxDeliveryStatusPending, models.OutboxDeliveryStatusFailed, now,
				models.OutboxDeliveryStatusProcessing, staleBefore,
			).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Status = models.OutboxDeliveryStatusProcessing
			claimed[i].LockedAt = &now
			lockedBy := d.DispatcherID
			claimed[i].LockedBy = &lockedBy
			if err := tx.Model(&models.WebhookDelivery{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"status":    models.OutboxDeliveryStatusProcessing,
					"locked_at": claimed[i].LockedAt,
					"locked_by": claimed[i].LockedBy,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":      "WebhookDispatcher",
				"dispatcher": d.DispatcherID,
			}).Error("claiming deliveries failed: " + err.Error())
		}
		return
	}

	for i := range claimed {
		d.deliver(ctx, &claimed[i])
	}
}

func (d *WebhookDispatcher) deliver(ctx context.Context, rec *models.WebhookDelivery) {
	master, err := models.GetMasterById(ctx, rec.MasterId)
	if err != nil {
		d.markFailed(ctx, rec, err)
		return
	}
	if master.WebhookUrl == "" {
		// No endpoint configured; consume the row so it never blocks the queue.
		d.markSent(ctx, rec)
		return
	}

	var data map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &data); err != nil {
		d.markFailed(ctx, rec, err)
		return
	}
	envelope := webhook.Envelope{
		Event:     rec.Event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	if err := d.Sender.Deliver(ctx, master.WebhookUrl, master.WebhookSecret, envelope); err != nil {
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":          "WebhookDispatcher",
				"master_id":      rec.MasterId,
				"event":          rec.Event,
				"delivery_id":    rec.ID,
				"attempts":       rec.Attempts + 1,
				"correlation_id": rec.CorrelationId,
			}).Error("webhook delivery failed: " + err.Error())
		}
		d.markFailed(ctx, rec, err)
		return
	}
	d.markSent(ctx, rec)
}

func (d *WebhookDispatcher) markSent(ctx context.Context, rec *models.WebhookDelivery) {
	now := time.Now().UTC()
	_ = d.DB.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"status":       models.OutboxDeliveryStatusSent,
			"attempts":     gorm.Expr("attempts + 1"),
			"delivered_at": &now,
			"locked_at":    nil,
			"locked_by":    nil,
			"last_error":   nil,
		}).Error
}

func (d *WebhookDispatcher) markFailed(ctx context.Context, rec *models.WebhookDelivery, deliverErr error) {
	attempts := rec.Attempts + 1
	status := models.OutboxDeliveryStatusFailed
	var nextAttempt *time.Time
	if attempts >= d.MaxAttempts {
		status = models.OutboxDeliveryStatusDead
	} else {
		backoff := d.InitialBackoff << (attempts - 1)
		if backoff > d.MaxBackoff || backoff <= 0 {
			backoff = d.MaxBackoff
		}
		at := time.Now().UTC().Add(backoff)
		nextAttempt = &at
	}
	errMsg := deliverErr.Error()
	_ = d.DB.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        attempts,
			"next_attempt_at": nextAttempt,
			"locked_at":       nil,
			"locked_by":       nil,
			"last_error":      &errMsg,
		}).Error
}
