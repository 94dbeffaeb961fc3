package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"bitbucket.org/mmdatafocus/collections_backend/whatsapp"
)

// reminderContent builds the outbound reminder text: the master's
// collection_reminder template when one is configured, otherwise the default
// French fallback.
func reminderContent(template *models.WhatsAppTemplate, agentName, amount, dueDate string) string {
	if template != nil {
		return template.Render(map[string]string{
			"agent_name": agentName,
			"amount":     amount,
			"due_date":   dueDate,
		})
	}
	if dueDate == "" {
		dueDate = "N/A"
	}
	return fmt.Sprintf(
		"Bonjour %s,\n\nRappel: Vous avez un paiement en attente de %s FCFA.\nDate d'echeance: %s\n\nMerci de regulariser votre compte.",
		agentName, amount, dueDate,
	)
}

// SendCollectionReminder messages the collection's agent with a payment
// reminder. The message record is persisted pending before the gateway call;
// on a successful send the collection's last_reminder_sent is stamped. A
// transport failure is recorded on the message and returned as data, never
// as an error.
func SendCollectionReminder(ctx context.Context, collectionId int, sender whatsapp.Sender) (*models.WhatsAppMessage, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	master, err := models.GetMaster(ctx)
	if err != nil {
		return nil, err
	}
	masterId := master.ID.String()

	collection, err := models.GetCollection(ctx, collectionId)
	if err != nil {
		return nil, err
	}
	// Tombstoned agents still get reminders for their open obligations.
	var agent models.Agent
	if err := db.WithContext(ctx).First(&agent, collection.AgentId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	template, err := models.GetActiveTemplateByType(db, ctx, masterId, models.TemplateTypeCollectionReminder)
	if err != nil {
		return nil, err
	}

	amount := collection.Amount.StringFixed(2)
	dueDate := utils.ConvertToLocalTime(collection.DueDate, master.Timezone).Format("2006-01-02")
	content := reminderContent(template, agent.Name, amount, dueDate)

	agentId := agent.ID
	message := models.WhatsAppMessage{
		MasterId:     masterId,
		AgentId:      &agentId,
		CollectionId: &collection.ID,
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
		return nil, err
	}

	if sender == nil {
		_ = message.MarkFailed(db, ctx, fmt.Errorf("whatsapp gateway not configured"))
		return &message, nil
	}

	var providerId string
	var sendErr error
	if template != nil && template.WhatsappTemplateName != "" {
		providerId, sendErr = sender.SendTemplate(ctx, agent.WhatsappNumber,
			template.WhatsappTemplateName, template.LanguageCode, whatsapp.TemplateParams{
				AgentName: agent.Name,
				Amount:    amount,
				DueDate:   dueDate,
			})
	} else {
		providerId, sendErr = sender.SendText(ctx, agent.WhatsappNumber, content)
	}
	if sendErr != nil {
		config.LogError(logger, "reminderWorkflow.go", "SendCollectionReminder", "Gateway send failed", agent.WhatsappNumber, sendErr)
		_ = message.MarkFailed(db, ctx, sendErr)
		return &message, nil
	}

	if err := message.MarkSent(db, ctx, providerId); err != nil {
		return &message, err
	}
	now := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&models.Collection{}).
		Where("id = ?", collection.ID).
		Update("last_reminder_sent", &now).Error; err != nil {
		return &message, err
	}
	collection.LastReminderSent = &now
	return &message, nil
}
