package models

type CollectionStatus string

const (
	CollectionStatusPending   CollectionStatus = "pending"
	CollectionStatusPaid      CollectionStatus = "paid"
	CollectionStatusFailed    CollectionStatus = "failed"
	CollectionStatusCancelled CollectionStatus = "cancelled"
)

func (s CollectionStatus) IsValid() bool {
	switch s {
	case CollectionStatusPending, CollectionStatusPaid, CollectionStatusFailed, CollectionStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
// pending is the only non-terminal status.
func (s CollectionStatus) IsTerminal() bool {
	return s != CollectionStatusPending
}

type PaymentMethod string

const (
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodMobileMoney, PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodOther:
		return true
	}
	return false
}

type ReconciliationStatus string

const (
	ReconciliationStatusRunning   ReconciliationStatus = "running"
	ReconciliationStatusCompleted ReconciliationStatus = "completed"
	ReconciliationStatusFailed    ReconciliationStatus = "failed"
)

type MessageDirection string

const (
	MessageDirectionInbound  MessageDirection = "inbound"
	MessageDirectionOutbound MessageDirection = "outbound"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusReceived  MessageStatus = "received"
)

type TemplateType string

const (
	TemplateTypeCollectionReminder  TemplateType = "collection_reminder"
	TemplateTypePaymentConfirmation TemplateType = "payment_confirmation"
	TemplateTypeCustom              TemplateType = "custom"
)

// Webhook event names on the tenant wire contract.
const (
	WebhookEventCollectionCreated = "collection.created"
	WebhookEventCollectionPaid    = "collection.paid"
)
