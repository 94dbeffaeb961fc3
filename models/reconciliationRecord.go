package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconciliationRecord is the audit of one matching run. Instances are
// immutable once the run completes or fails.
type ReconciliationRecord struct {
	ID                int                  `gorm:"primary_key" json:"id"`
	MasterId          string               `gorm:"size:64;not null;index" json:"master_id"`
	AgentId           *int                 `gorm:"default:null;index" json:"agent_id"`
	Status            ReconciliationStatus `gorm:"size:20;not null;default:running;index" json:"status"`
	StartedAt         time.Time            `gorm:"not null" json:"started_at"`
	CompletedAt       *time.Time           `gorm:"default:null" json:"completed_at"`
	TotalPayments     int                  `gorm:"not null;default:0" json:"total_payments"`
	MatchedPayments   int                  `gorm:"not null;default:0" json:"matched_payments"`
	UnmatchedPayments int                  `gorm:"not null;default:0" json:"unmatched_payments"`
	TotalAmount       decimal.Decimal      `gorm:"type:decimal(12,2);not null;default:0" json:"total_amount"`
	ErrorMessage      *string              `gorm:"type:text" json:"error_message"`
	Notes             string               `gorm:"type:text;default:null" json:"notes"`
	CreatedAt         time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func OpenReconciliationRecord(tx *gorm.DB, ctx context.Context, masterId string, agentId *int) (*ReconciliationRecord, error) {
	record := ReconciliationRecord{
		MasterId:  masterId,
		AgentId:   agentId,
		Status:    ReconciliationStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ReconciliationRecord) Complete(tx *gorm.DB, ctx context.Context, total, matched, unmatched int, totalAmount decimal.Decimal) error {
	now := time.Now().UTC()
	r.Status = ReconciliationStatusCompleted
	r.CompletedAt = &now
	r.TotalPayments = total
	r.MatchedPayments = matched
	r.UnmatchedPayments = unmatched
	r.TotalAmount = totalAmount
	return tx.WithContext(ctx).Model(&ReconciliationRecord{}).
		Where("id = ?", r.ID).
		Updates(map[string]interface{}{
			"status":             ReconciliationStatusCompleted,
			"completed_at":       &now,
			"total_payments":     total,
			"matched_payments":   matched,
			"unmatched_payments": unmatched,
			"total_amount":       totalAmount,
		}).Error
}

func (r *ReconciliationRecord) Fail(tx *gorm.DB, ctx context.Context, runErr error) error {
	now := time.Now().UTC()
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	r.Status = ReconciliationStatusFailed
	r.CompletedAt = &now
	r.ErrorMessage = &msg
	return tx.WithContext(ctx).Model(&ReconciliationRecord{}).
		Where("id = ?", r.ID).
		Updates(map[string]interface{}{
			"status":        ReconciliationStatusFailed,
			"completed_at":  &now,
			"error_message": &msg,
		}).Error
}

func GetReconciliationRecord(ctx context.Context, id int) (*ReconciliationRecord, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	return utils.FetchModel[ReconciliationRecord](ctx, masterId, id)
}

func GetReconciliationRecords(ctx context.Context) ([]*ReconciliationRecord, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	db := config.GetDB()
	var results []*ReconciliationRecord
	if err := db.WithContext(ctx).Where("master_id = ?", masterId).
		Order("started_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
