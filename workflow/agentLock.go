package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireAgentMutationLock serializes collection/payment mutation per
// (master, agent) across instances using MySQL advisory locks. Both the
// reconcile loop and the direct-paid ingestion path take this lock before
// touching a pending collection, so they can never select the same row.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the mutation transaction.
func AcquireAgentMutationLock(tx *gorm.DB, masterId string, agentId int) error {
	lockName := fmt.Sprintf("collections:%s:%d", masterId, agentId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire mutation lock for master_id=%s agent_id=%d", masterId, agentId)
	}
	return nil
}

func ReleaseAgentMutationLock(tx *gorm.DB, masterId string, agentId int) {
	lockName := fmt.Sprintf("collections:%s:%d", masterId, agentId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
