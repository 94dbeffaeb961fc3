package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Collection is a single payment obligation owed by an agent to a master.
//
// Lifecycle: pending -> paid | failed | cancelled. pending is the only
// non-terminal status; all mutation goes through the transition operations
// below, never through arbitrary field writes. PaidAt is set iff the status
// is paid.
type Collection struct {
	ID                   int               `gorm:"primary_key" json:"id"`
	MasterId             string            `gorm:"size:64;not null;index:idx_master_status" json:"master_id"`
	AgentId              int               `gorm:"not null;index:idx_agent_status" json:"agent_id" binding:"required"`
	Amount               decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"amount" binding:"required"`
	Status               CollectionStatus  `gorm:"size:20;not null;default:pending;index:idx_master_status;index:idx_agent_status" json:"status"`
	PaymentMethod        PaymentMethod     `gorm:"size:20;default:null" json:"payment_method"`
	TransactionReference string            `gorm:"size:255;default:null;index" json:"transaction_reference"`
	DueDate              time.Time         `gorm:"not null;index" json:"due_date" binding:"required"`
	PaidAt               *time.Time        `gorm:"default:null" json:"paid_at"`
	LastReminderSent     *time.Time        `gorm:"default:null" json:"last_reminder_sent"`
	Notes                []*CollectionNote `json:"notes"`
	CreatedAt            time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// CollectionNote is one append-only audit entry on a collection. Notes are
// written by transition operations and ingestion provenance only; they are
// never updated or deleted.
type CollectionNote struct {
	ID           int       `gorm:"primary_key" json:"id"`
	CollectionId int       `gorm:"not null;index:uniq_note_seq,unique" json:"collection_id"`
	Seq          int       `gorm:"not null;index:uniq_note_seq,unique" json:"seq"`
	Body         string    `gorm:"type:text;not null" json:"body"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewCollection struct {
	AgentId int             `json:"agent_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	DueDate time.Time       `json:"due_date" binding:"required"`
	Note    string          `json:"note"`
}

func (c *Collection) IsOverdue() bool {
	return c.Status == CollectionStatusPending && c.DueDate.Before(time.Now().UTC())
}

// AppendNote writes the next audit entry for the collection inside tx. The
// unique (collection_id, seq) index pins the append-only ordering; losing a
// seq race to a concurrent writer just means recomputing and retrying.
func (c *Collection) AppendNote(tx *gorm.DB, ctx context.Context, body string) error {
	if body == "" {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var maxSeq int
		if err := tx.WithContext(ctx).Model(&CollectionNote{}).
			Where("collection_id = ?", c.ID).
			Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		note := CollectionNote{
			CollectionId: c.ID,
			Seq:          maxSeq + 1,
			Body:         body,
		}
		err := tx.WithContext(ctx).Create(&note).Error
		if err == nil {
			return nil
		}
		if !utils.IsDuplicateKeyError(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (input *NewCollection) validate(ctx context.Context, masterId string) error {
	if !input.Amount.IsPositive() {
		return utils.NewValidationError("amount", "must be greater than zero")
	}
	if input.DueDate.IsZero() {
		return utils.NewValidationError("due_date", "is required")
	}
	if err := utils.ValidateResourceId[Agent](ctx, masterId, input.AgentId); err != nil {
		return errors.New("agent not found")
	}
	return nil
}

// CreateCollection opens a pending obligation and queues collection.created
// for webhook delivery in the same transaction.
func CreateCollection(ctx context.Context, input *NewCollection) (*Collection, error) {

	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	if err := input.validate(ctx, masterId); err != nil {
		return nil, err
	}
	agent, err := GetAgent(ctx, input.AgentId)
	if err != nil {
		return nil, errors.New("agent not found")
	}

	collection := Collection{
		MasterId: masterId,
		AgentId:  agent.ID,
		Amount:   input.Amount,
		Status:   CollectionStatusPending,
		DueDate:  input.DueDate,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&collection).Error; err != nil {
			return err
		}
		if input.Note != "" {
			if err := collection.AppendNote(tx, ctx, input.Note); err != nil {
				return err
			}
		}
		return PublishWebhook(ctx, tx, masterId, WebhookEventCollectionCreated, map[string]interface{}{
			"collection_id": fmt.Sprint(collection.ID),
			"agent_name":    agent.Name,
			"amount":        collection.Amount.StringFixed(2),
			"status":        string(collection.Status),
			"due_date":      collection.DueDate.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// transitionStatus performs the guarded pending -> target update. The WHERE
// on status = 'pending' is what makes two racing writers safe: only one
// UPDATE can hit the row, the loser sees zero rows and gets
// ErrInvalidStateTransition.
func (c *Collection) transitionStatus(tx *gorm.DB, ctx context.Context, target CollectionStatus, updates map[string]interface{}) error {
	updates["status"] = target
	res := tx.WithContext(ctx).Model(&Collection{}).
		Where("id = ? AND status = ?", c.ID, CollectionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrInvalidStateTransition
	}
	c.Status = target
	return nil
}

// MarkPaid transitions pending -> paid, sets PaidAt, and queues
// collection.paid for webhook delivery in the same transaction. Valid only
// from pending.
func (c *Collection) MarkPaid(tx *gorm.DB, ctx context.Context, transactionReference string, paymentMethod PaymentMethod, note string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"paid_at": &now,
	}
	if transactionReference != "" {
		updates["transaction_reference"] = transactionReference
	}
	if paymentMethod != "" {
		updates["payment_method"] = paymentMethod
	}
	if err := c.transitionStatus(tx, ctx, CollectionStatusPaid, updates); err != nil {
		return err
	}
	c.PaidAt = &now
	if transactionReference != "" {
		c.TransactionReference = transactionReference
	}
	if paymentMethod != "" {
		c.PaymentMethod = paymentMethod
	}
	if err := c.AppendNote(tx, ctx, note); err != nil {
		return err
	}

	var agentName string
	if err := tx.WithContext(ctx).Model(&Agent{}).Where("id = ?", c.AgentId).
		Select("name").Scan(&agentName).Error; err != nil {
		return err
	}
	return PublishWebhook(ctx, tx, c.MasterId, WebhookEventCollectionPaid, map[string]interface{}{
		"collection_id":         fmt.Sprint(c.ID),
		"agent_name":            agentName,
		"amount":                c.Amount.StringFixed(2),
		"status":                string(c.Status),
		"transaction_reference": c.TransactionReference,
		"payment_method":        string(c.PaymentMethod),
		"paid_at":               now.Format(time.RFC3339),
	})
}

// MarkFailed transitions pending -> failed. Valid only from pending.
func (c *Collection) MarkFailed(tx *gorm.DB, ctx context.Context, note string) error {
	if err := c.transitionStatus(tx, ctx, CollectionStatusFailed, map[string]interface{}{}); err != nil {
		return err
	}
	return c.AppendNote(tx, ctx, note)
}

// Cancel transitions pending -> cancelled. Valid only from pending.
func (c *Collection) Cancel(tx *gorm.DB, ctx context.Context, note string) error {
	if err := c.transitionStatus(tx, ctx, CollectionStatusCancelled, map[string]interface{}{}); err != nil {
		return err
	}
	return c.AppendNote(tx, ctx, note)
}

func GetCollection(ctx context.Context, id int) (*Collection, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	db := config.GetDB()
	var result Collection
	err := db.WithContext(ctx).Where("master_id = ?", masterId).
		Preload("Notes", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq ASC") }).
		First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

type CollectionFilter struct {
	Status  *CollectionStatus
	AgentId *int
	Overdue bool
}

func GetCollections(ctx context.Context, filter CollectionFilter) ([]*Collection, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("master_id = ?", masterId)
	if filter.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.AgentId != nil {
		dbCtx = dbCtx.Where("agent_id = ?", *filter.AgentId)
	}
	if filter.Overdue {
		dbCtx = dbCtx.Where("status = ? AND due_date < ?", CollectionStatusPending, time.Now().UTC())
	}
	var results []*Collection
	if err := dbCtx.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
