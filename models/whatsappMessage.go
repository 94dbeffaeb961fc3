package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// WhatsAppMessage tracks one outbound (or inbound) message. A row is always
// persisted with status pending BEFORE the gateway is invoked, then updated
// from the send result, so the audit trail survives transport failure.
type WhatsAppMessage struct {
	ID           int              `gorm:"primary_key" json:"id"`
	MasterId     string           `gorm:"size:64;not null;index" json:"master_id"`
	AgentId      *int             `gorm:"default:null;index" json:"agent_id"`
	CollectionId *int             `gorm:"default:null;index" json:"collection_id"`
	TemplateId   *int             `gorm:"default:null" json:"template_id"`
	Direction    MessageDirection `gorm:"size:20;not null;default:outbound" json:"direction"`
	Status       MessageStatus    `gorm:"size:20;not null;default:pending;index" json:"status"`
	ToNumber     string           `gorm:"size:20;not null;index" json:"to_number"`
	FromNumber   string           `gorm:"size:20;default:null" json:"from_number"`
	MessageId    string           `gorm:"size:255;default:null;index" json:"message_id"`
	Content      string           `gorm:"type:text;not null" json:"content"`
	SentAt       *time.Time       `gorm:"default:null" json:"sent_at"`
	DeliveredAt  *time.Time       `gorm:"default:null" json:"delivered_at"`
	ReceivedAt   *time.Time       `gorm:"default:null" json:"received_at"`
	ErrorMessage string           `gorm:"type:text;default:null" json:"error_message"`
	Metadata     []byte           `gorm:"type:blob" json:"metadata"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WhatsAppMessage) TableName() string {
	return "whatsapp_messages"
}

// MarkSent records a successful gateway send with the provider message id.
func (m *WhatsAppMessage) MarkSent(tx *gorm.DB, ctx context.Context, providerMessageId string) error {
	now := time.Now().UTC()
	m.Status = MessageStatusSent
	m.MessageId = providerMessageId
	m.SentAt = &now
	return tx.WithContext(ctx).Model(&WhatsAppMessage{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"status":     MessageStatusSent,
			"message_id": providerMessageId,
			"sent_at":    &now,
		}).Error
}

// MarkFailed records a transport failure. The error is data, never raised.
func (m *WhatsAppMessage) MarkFailed(tx *gorm.DB, ctx context.Context, sendErr error) error {
	msg := ""
	if sendErr != nil {
		msg = sendErr.Error()
	}
	m.Status = MessageStatusFailed
	m.ErrorMessage = msg
	return tx.WithContext(ctx).Model(&WhatsAppMessage{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"status":        MessageStatusFailed,
			"error_message": msg,
		}).Error
}
