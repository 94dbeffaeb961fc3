package workflow

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, masterId, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		MasterId:    masterId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !utils.IsDuplicateKeyError(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("master_id = ? AND handler_name = ? AND message_id = ?", masterId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// If another worker is currently processing, surface that so the
		// caller can retry later. If it's stale, reuse the same row.
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, ErrIdempotencyInProgress
		}
		return false, tx.Model(&models.IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
	default:
		return false, tx.Model(&models.IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
	}
}

func MarkIdempotencySucceeded(tx *gorm.DB, masterId, handlerName, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("master_id = ? AND handler_name = ? AND message_id = ?", masterId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, masterId, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("master_id = ? AND handler_name = ? AND message_id = ?", masterId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
