package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentMatch is one observed incoming payment. Rows are created unmatched
// by external payment recording and closed exactly once, either synchronously
// by the ingestion pipeline or later by the matching engine.
//
// Invariant: IsMatched is true iff MatchedCollectionId and MatchedAt are both
// set. MatchedCollectionId is a weak reference; it does not own the
// collection's lifecycle.
type PaymentMatch struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	MasterId             string          `gorm:"size:64;not null;index:uniq_match_reference,unique;index:idx_match_master_unmatched" json:"master_id"`
	AgentId              int             `gorm:"not null;index" json:"agent_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount" binding:"required"`
	TransactionReference string          `gorm:"size:255;not null;index:uniq_match_reference,unique" json:"transaction_reference" binding:"required"`
	PaymentMethod        PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	ReceivedAt           time.Time       `gorm:"not null" json:"received_at"`
	IsMatched            bool            `gorm:"not null;default:false;index:idx_match_master_unmatched" json:"is_matched"`
	MatchedCollectionId  *int            `gorm:"default:null" json:"matched_collection_id"`
	MatchedAt            *time.Time      `gorm:"default:null" json:"matched_at"`
	Notes                string          `gorm:"type:text;default:null" json:"notes"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPaymentMatch struct {
	AgentId              int             `json:"agent_id" binding:"required"`
	Amount               decimal.Decimal `json:"amount" binding:"required"`
	TransactionReference string          `json:"transaction_reference" binding:"required"`
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	ReceivedAt           time.Time       `json:"received_at"`
	Notes                string          `json:"notes"`
}

// RecordPayment stores an observed payment as an unmatched row for the
// matching engine to pick up. Duplicate (master, reference) submissions are
// idempotent: the existing row is returned untouched.
func RecordPayment(ctx context.Context, input *NewPaymentMatch) (*PaymentMatch, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, utils.NewValidationError("amount", "must be greater than zero")
	}
	if err := utils.ValidateResourceId[Agent](ctx, masterId, input.AgentId); err != nil {
		return nil, errors.New("agent not found")
	}
	method := input.PaymentMethod
	if method == "" {
		method = PaymentMethodMobileMoney
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	db := config.GetDB()
	var existing PaymentMatch
	err := db.WithContext(ctx).
		Where("master_id = ? AND transaction_reference = ?", masterId, input.TransactionReference).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	match := PaymentMatch{
		MasterId:             masterId,
		AgentId:              input.AgentId,
		Amount:               input.Amount,
		TransactionReference: input.TransactionReference,
		PaymentMethod:        method,
		ReceivedAt:           receivedAt,
		IsMatched:            false,
		Notes:                input.Notes,
	}
	if err := db.WithContext(ctx).Create(&match).Error; err != nil {
		if utils.IsDuplicateKeyError(err) {
			// Concurrent submission of the same reference; the first
			// writer's row is the canonical one.
			if err := db.WithContext(ctx).
				Where("master_id = ? AND transaction_reference = ?", masterId, input.TransactionReference).
				First(&existing).Error; err != nil {
				return nil, err
			}
			return &existing, nil
		}
		return nil, err
	}
	return &match, nil
}

// UpsertMatchedPayment records an already-settled payment as a closed match,
// keyed by (master, transaction_reference). Used by the ingestion pipeline,
// which bypasses the matching engine because the payment is known-settled.
func UpsertMatchedPayment(tx *gorm.DB, ctx context.Context, masterId string, agentId int, collectionId int, amount decimal.Decimal, reference string, receivedAt time.Time, notes string) (*PaymentMatch, error) {
	now := time.Now().UTC()
	match := PaymentMatch{
		MasterId:             masterId,
		AgentId:              agentId,
		Amount:               amount,
		TransactionReference: reference,
		PaymentMethod:        PaymentMethodMobileMoney,
		ReceivedAt:           receivedAt,
		IsMatched:            true,
		MatchedCollectionId:  &collectionId,
		MatchedAt:            &now,
		Notes:                notes,
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "master_id"}, {Name: "transaction_reference"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"agent_id", "amount", "payment_method", "received_at",
			"is_matched", "matched_collection_id", "matched_at", "notes",
		}),
	}).Create(&match).Error
	if err != nil {
		return nil, err
	}
	if match.ID == 0 {
		// Upsert path: re-read to pick up the existing row's id.
		if err := tx.WithContext(ctx).
			Where("master_id = ? AND transaction_reference = ?", masterId, reference).
			First(&match).Error; err != nil {
			return nil, err
		}
	}
	return &match, nil
}

// Close marks the payment matched to collectionId inside tx. Guarded on
// is_matched = 0 so a payment can never be applied twice.
func (pm *PaymentMatch) Close(tx *gorm.DB, ctx context.Context, collectionId int) error {
	now := time.Now().UTC()
	res := tx.WithContext(ctx).Model(&PaymentMatch{}).
		Where("id = ? AND is_matched = 0", pm.ID).
		Updates(map[string]interface{}{
			"is_matched":            true,
			"matched_collection_id": collectionId,
			"matched_at":            &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrInvalidStateTransition
	}
	pm.IsMatched = true
	pm.MatchedCollectionId = &collectionId
	pm.MatchedAt = &now
	return nil
}

func GetUnmatchedPayments(tx *gorm.DB, ctx context.Context, masterId string, agentId *int) ([]*PaymentMatch, error) {
	dbCtx := tx.WithContext(ctx).
		Where("master_id = ? AND is_matched = 0", masterId)
	if agentId != nil {
		dbCtx = dbCtx.Where("agent_id = ?", *agentId)
	}
	var results []*PaymentMatch
	if err := dbCtx.Order("received_at ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
