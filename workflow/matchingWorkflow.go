package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const reconcileLockType = "ReconcileLock"

// Reconcile runs one exact-amount matching pass for the master, optionally
// restricted to a single agent. Each payment is settled in its own
// transaction, so a mid-run failure keeps everything already matched and the
// record ends up failed with the error preserved. Re-running after a
// completed or failed run is always safe: settled payments are no longer
// unmatched and are simply not scanned again.
func Reconcile(ctx context.Context, masterId string, agentId *int) (*models.ReconciliationRecord, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	release, err := utils.MasterLock(ctx, masterId, reconcileLockType, "matchingWorkflow.go", "Reconcile")
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := models.OpenReconciliationRecord(db, ctx, masterId, agentId)
	if err != nil {
		return nil, err
	}

	payments, err := models.GetUnmatchedPayments(db, ctx, masterId, agentId)
	if err != nil {
		_ = record.Fail(db, ctx, err)
		return record, nil
	}

	matched := 0
	totalAmount := decimal.Zero
	for _, payment := range payments {
		totalAmount = totalAmount.Add(payment.Amount)
		ok, err := matchPayment(ctx, db, masterId, payment)
		if err != nil {
			config.LogError(logger, "matchingWorkflow.go", "Reconcile", "Matching payment", payment.TransactionReference, err)
			_ = record.Fail(db, ctx, err)
			return record, nil
		}
		if ok {
			matched++
		}
	}

	if err := record.Complete(db, ctx, len(payments), matched, len(payments)-matched, totalAmount); err != nil {
		return nil, err
	}
	return record, nil
}

// matchPayment settles one payment against the agent's oldest-due pending
// collection with the exact same amount. The candidate rows are locked FOR
// UPDATE and the agent mutation lock is held, so a concurrent manual
// transition or second reconcile pass cannot double-apply anything; if the
// collection slips away anyway, the guarded update loses cleanly and the
// next candidate is tried.
func matchPayment(ctx context.Context, db *gorm.DB, masterId string, payment *models.PaymentMatch) (matched bool, err error) {
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireAgentMutationLock(tx, masterId, payment.AgentId); err != nil {
			return err
		}
		defer ReleaseAgentMutationLock(tx, masterId, payment.AgentId)

		var candidates []*models.Collection
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("master_id = ? AND agent_id = ? AND status = ?",
				masterId, payment.AgentId, models.CollectionStatusPending).
			Order("due_date ASC, created_at ASC, id ASC").
			Find(&candidates).Error; err != nil {
			return err
		}

		for _, candidate := range candidates {
			if !candidate.Amount.Equal(payment.Amount) {
				continue
			}
			note := fmt.Sprintf("Matched via reconciliation: payment %d (ref %s)",
				payment.ID, payment.TransactionReference)
			if err := candidate.MarkPaid(tx, ctx, payment.TransactionReference, payment.PaymentMethod, note); err != nil {
				if err == utils.ErrInvalidStateTransition {
					continue
				}
				return err
			}
			if err := payment.Close(tx, ctx, candidate.ID); err != nil {
				return err
			}
			matched = true
			return nil
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}
