package models

// Outbox delivery statuses for WebhookDelivery.Status.
// Keep these as strings (DB values) for backwards compatibility.
const (
	OutboxDeliveryStatusPending    = "PENDING"
	OutboxDeliveryStatusProcessing = "PROCESSING"
	OutboxDeliveryStatusSent       = "SENT"
	OutboxDeliveryStatusFailed     = "FAILED"
	OutboxDeliveryStatusDead       = "DEAD"
)
