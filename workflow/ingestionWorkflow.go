package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"bitbucket.org/mmdatafocus/collections_backend/whatsapp"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const ingestHandlerName = "payment-ingest"

// PaymentRow is one observed settled payment from a manual source (CSV/XLSX
// export, seed). Amount and PaymentDate arrive as raw strings; parse failures
// are row-scoped and never abort the batch.
type PaymentRow struct {
	CustomerName string `json:"customer_name" binding:"required"`
	PhoneNumber  string `json:"phone_number" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	PaymentDate  string `json:"payment_date" binding:"required"`
	Reference    string `json:"reference" binding:"required"`
}

// NotificationDirective asks the pipeline to message the agent after each
// ingested row: either free-form text, or a template alias with a language.
type NotificationDirective struct {
	Message          string `json:"message"`
	TemplateName     string `json:"template_name"`
	TemplateLanguage string `json:"template_language"`
}

// IngestResult is the per-row outcome. Exactly one result is returned for
// every input row, in input order.
type IngestResult struct {
	Reference       string `json:"reference"`
	CollectionId    int    `json:"collection_id,omitempty"`
	AgentId         int    `json:"agent_id,omitempty"`
	MessageId       *int   `json:"whatsapp_message_id,omitempty"`
	MessageStatus   string `json:"whatsapp_status,omitempty"`
	AlreadyIngested bool   `json:"already_ingested,omitempty"`
	Error           string `json:"error,omitempty"`
}

type parsedRow struct {
	customerName string
	phoneNumber  string
	amount       decimal.Decimal
	paymentDate  time.Time
	reference    string
}

// IngestPayments runs the idempotent payment ingestion pipeline for one
// master. Rows are processed sequentially and independently: no cross-row
// transaction, and a malformed row only fails its own result. Re-submitting
// a batch is safe; rows whose reference was already ingested are skipped.
func IngestPayments(ctx context.Context, master *models.Master, rows []PaymentRow, directive *NotificationDirective, sender whatsapp.Sender) []IngestResult {
	logger := config.GetLogger()
	results := make([]IngestResult, 0, len(rows))

	for _, row := range rows {
		result := IngestResult{Reference: row.Reference}

		parsed, err := parseRow(master, row)
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		agent, collection, skipped, err := ingestRow(ctx, master, parsed)
		if err != nil {
			config.LogError(logger, "ingestionWorkflow.go", "IngestPayments", "Ingesting payment row", row.Reference, err)
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		if skipped {
			result.AlreadyIngested = true
			if collection != nil {
				result.CollectionId = collection.ID
			}
			if agent != nil {
				result.AgentId = agent.ID
			}
			results = append(results, result)
			continue
		}
		result.CollectionId = collection.ID
		result.AgentId = agent.ID

		// Notification is best-effort: the row's state transitions are
		// already committed, a transport failure is recorded as data.
		if directive != nil && (directive.Message != "" || directive.TemplateName != "") {
			message := triggerNotification(ctx, master, agent, collection, directive, sender)
			if message != nil {
				id := message.ID
				result.MessageId = &id
				result.MessageStatus = string(message.Status)
			}
		}

		results = append(results, result)
	}
	return results
}

func parseRow(master *models.Master, row PaymentRow) (*parsedRow, error) {
	if row.Reference == "" {
		return nil, utils.NewValidationError("reference", "is required")
	}
	if row.PhoneNumber == "" {
		return nil, utils.NewValidationError("phone_number", "is required")
	}
	if err := utils.ValidatePhoneNumber(utils.NormalizePhone(row.PhoneNumber), utils.CountryCode); err != nil {
		return nil, utils.NewValidationError("phone_number", "invalid phone number: "+row.PhoneNumber)
	}
	amount, err := utils.ParseDecimal(row.Amount)
	if err != nil {
		return nil, utils.NewValidationError("amount", "unparseable amount: "+row.Amount)
	}
	if !amount.IsPositive() {
		return nil, utils.NewValidationError("amount", "must be greater than zero")
	}
	paymentDate, err := utils.ParseDateString(row.PaymentDate, master.Timezone)
	if err != nil {
		return nil, utils.NewValidationError("payment_date", "unparseable date: "+row.PaymentDate)
	}
	return &parsedRow{
		customerName: row.CustomerName,
		phoneNumber:  row.PhoneNumber,
		amount:       amount,
		paymentDate:  paymentDate,
		reference:    row.Reference,
	}, nil
}

// ingestRow performs the row's state changes in one transaction: agent
// upsert, direct-paid collection, closed payment match, webhook outbox row.
// The idempotency key lives outside that transaction so a failed row leaves
// a durable FAILED record instead of vanishing with the rollback.
func ingestRow(ctx context.Context, master *models.Master, row *parsedRow) (agent *models.Agent, collection *models.Collection, skipped bool, err error) {
	db := config.GetDB()
	masterId := master.ID.String()

	skip, err := BeginIdempotency(db.WithContext(ctx), masterId, ingestHandlerName, row.reference)
	if err != nil {
		return nil, nil, false, err
	}
	if skip {
		// Report the prior outcome from the settled payment match.
		var match models.PaymentMatch
		if err := db.WithContext(ctx).
			Where("master_id = ? AND transaction_reference = ?", masterId, row.reference).
			First(&match).Error; err == nil {
			agent = &models.Agent{ID: match.AgentId}
			if match.MatchedCollectionId != nil {
				collection = &models.Collection{ID: *match.MatchedCollectionId}
			}
		}
		return agent, collection, true, nil
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		agent, err = models.GetOrCreateAgent(tx, ctx, masterId, row.customerName, row.phoneNumber)
		if err != nil {
			return err
		}

		if err := AcquireAgentMutationLock(tx, masterId, agent.ID); err != nil {
			return err
		}
		defer ReleaseAgentMutationLock(tx, masterId, agent.ID)

		paidAt := row.paymentDate
		collection = &models.Collection{
			MasterId:             masterId,
			AgentId:              agent.ID,
			Amount:               row.amount,
			Status:               models.CollectionStatusPaid,
			PaymentMethod:        models.PaymentMethodMobileMoney,
			TransactionReference: row.reference,
			DueDate:              row.paymentDate,
			PaidAt:               &paidAt,
		}
		if err := tx.Create(collection).Error; err != nil {
			return err
		}
		provenance := fmt.Sprintf(
			"Manual payment import.\nCustomer: %s\nPhone: %s\nReference: %s\nPayment Date: %s",
			row.customerName,
			utils.NormalizePhone(row.phoneNumber),
			row.reference,
			row.paymentDate.Format(time.RFC3339),
		)
		if err := collection.AppendNote(tx, ctx, provenance); err != nil {
			return err
		}

		if _, err := models.UpsertMatchedPayment(tx, ctx, masterId, agent.ID, collection.ID,
			row.amount, row.reference, row.paymentDate, "Manual payment import."); err != nil {
			return err
		}

		if err := models.PublishWebhook(ctx, tx, masterId, models.WebhookEventCollectionPaid, map[string]interface{}{
			"collection_id":         fmt.Sprint(collection.ID),
			"agent_name":            agent.Name,
			"amount":                collection.Amount.StringFixed(2),
			"status":                string(collection.Status),
			"transaction_reference": row.reference,
			"payment_method":        string(models.PaymentMethodMobileMoney),
			"paid_at":               paidAt.Format(time.RFC3339),
		}); err != nil {
			return err
		}

		return MarkIdempotencySucceeded(tx, masterId, ingestHandlerName, row.reference)
	})
	if err != nil {
		if markErr := MarkIdempotencyFailed(db.WithContext(ctx), masterId, ingestHandlerName, row.reference, err); markErr != nil {
			config.LogError(config.GetLogger(), "ingestionWorkflow.go", "ingestRow", "Recording row failure", row.reference, markErr)
		}
		return nil, nil, false, err
	}
	return agent, collection, skipped, nil
}

// triggerNotification persists the message record with status pending before
// the gateway call, then records the outcome. Errors never propagate.
func triggerNotification(ctx context.Context, master *models.Master, agent *models.Agent, collection *models.Collection, directive *NotificationDirective, sender whatsapp.Sender) *models.WhatsAppMessage {
	db := config.GetDB()
	logger := config.GetLogger()
	masterId := master.ID.String()

	var template *models.WhatsAppTemplate
	if directive.TemplateName != "" {
		language := directive.TemplateLanguage
		if language == "" {
			language = "fr"
		}
		resolvedName, resolvedLanguage := models.ResolveTemplateAlias(directive.TemplateName, language)
		var err error
		template, err = models.GetOrCreateTemplate(db, ctx, masterId, resolvedName, resolvedLanguage)
		if err != nil {
			config.LogError(logger, "ingestionWorkflow.go", "triggerNotification", "Resolving template", directive.TemplateName, err)
			template = nil
		}
	}

	content := directive.Message
	if content == "" {
		content = fmt.Sprintf("Paiement recu: %s FCFA. Merci %s.", collection.Amount.StringFixed(2), agent.Name)
	}

	agentId := agent.ID
	collectionId := collection.ID
	message := models.WhatsAppMessage{
		MasterId:     masterId,
		AgentId:      &agentId,
		CollectionId: &collectionId,
		Direction:    models.MessageDirectionOutbound,
		Status:       models.MessageStatusPending,
		ToNumber:     agent.WhatsappNumber,
		Content:      content,
	}
	if template != nil {
		templateId := template.ID
		message.TemplateId = &templateId
	}
	if err := db.WithContext(ctx).Create(&message).Error; err != nil {
		config.LogError(logger, "ingestionWorkflow.go", "triggerNotification", "Persisting message", agent.WhatsappNumber, err)
		return nil
	}

	if sender == nil {
		_ = message.MarkFailed(db, ctx, fmt.Errorf("whatsapp gateway not configured"))
		return &message
	}

	var providerId string
	var sendErr error
	if template != nil && template.WhatsappTemplateName != "" {
		paidDate := ""
		if collection.PaidAt != nil {
			paidDate = collection.PaidAt.Format("2006-01-02")
		}
		providerId, sendErr = sender.SendTemplate(ctx, agent.WhatsappNumber,
			template.WhatsappTemplateName, template.LanguageCode, whatsapp.TemplateParams{
				AgentName: agent.Name,
				Amount:    collection.Amount.StringFixed(2),
				DueDate:   paidDate,
			})
	} else {
		providerId, sendErr = sender.SendText(ctx, agent.WhatsappNumber, content)
	}

	if sendErr != nil {
		config.LogError(logger, "ingestionWorkflow.go", "triggerNotification", "Gateway send failed", agent.WhatsappNumber, sendErr)
		_ = message.MarkFailed(db, ctx, sendErr)
		return &message
	}
	_ = message.MarkSent(db, ctx, providerId)
	return &message
}
