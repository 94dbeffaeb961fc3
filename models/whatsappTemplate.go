package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"gorm.io/gorm"
)

// WhatsAppTemplate is a reusable outbound message format. WhatsappTemplateName
// is the approved template name in Meta Business Suite; templates referenced
// by alias are lazy-created on first use, idempotent per
// (master, whatsapp_template_name).
type WhatsAppTemplate struct {
	ID                   int          `gorm:"primary_key" json:"id"`
	MasterId             string       `gorm:"size:64;not null;index:uniq_template_name,unique" json:"master_id"`
	Name                 string       `gorm:"size:255;not null" json:"name"`
	WhatsappTemplateName string       `gorm:"size:255;not null;index:uniq_template_name,unique" json:"whatsapp_template_name"`
	TemplateType         TemplateType `gorm:"size:50;not null;default:custom" json:"template_type"`
	Content              string       `gorm:"type:text;not null" json:"content"`
	LanguageCode         string       `gorm:"size:10;not null;default:fr" json:"language_code"`
	IsActive             *bool        `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt            time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WhatsAppTemplate) TableName() string {
	return "whatsapp_templates"
}

// Render substitutes {key} placeholders with the given values.
func (t *WhatsAppTemplate) Render(params map[string]string) string {
	content := t.Content
	for key, value := range params {
		content = strings.ReplaceAll(content, fmt.Sprintf("{%s}", key), value)
	}
	return content
}

// ResolveTemplateAlias maps a logical alias to the deployment's approved
// template name and language. Unknown aliases pass through unchanged.
func ResolveTemplateAlias(alias string, language string) (string, string) {
	if strings.EqualFold(alias, "pinpay") {
		resolvedName := strings.TrimSpace(os.Getenv("PINPAY_TEMPLATE_NAME"))
		resolvedLanguage := strings.TrimSpace(os.Getenv("PINPAY_TEMPLATE_LANGUAGE"))
		if resolvedLanguage == "" {
			resolvedLanguage = language
		}
		if resolvedName != "" {
			return resolvedName, resolvedLanguage
		}
	}
	return alias, language
}

// GetActiveTemplateByType returns the master's first active template of the
// given type, or nil when none is configured.
func GetActiveTemplateByType(tx *gorm.DB, ctx context.Context, masterId string, templateType TemplateType) (*WhatsAppTemplate, error) {
	var template WhatsAppTemplate
	err := tx.WithContext(ctx).
		Where("master_id = ? AND template_type = ? AND is_active = 1", masterId, templateType).
		Order("id ASC").
		First(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &template, nil
}

// GetOrCreateTemplate finds the active template with the approved name,
// lazy-creating a placeholder definition on first use.
func GetOrCreateTemplate(tx *gorm.DB, ctx context.Context, masterId string, approvedName string, language string) (*WhatsAppTemplate, error) {
	var template WhatsAppTemplate
	err := tx.WithContext(ctx).
		Where("master_id = ? AND whatsapp_template_name = ? AND is_active = 1", masterId, approvedName).
		First(&template).Error
	if err == nil {
		return &template, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	template = WhatsAppTemplate{
		MasterId:             masterId,
		Name:                 "Manual Template: " + approvedName,
		WhatsappTemplateName: approvedName,
		TemplateType:         TemplateTypeCustom,
		Content:              "Template: " + approvedName,
		LanguageCode:         language,
		IsActive:             utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&template).Error; err != nil {
		// Lost a race with a concurrent lazy create: re-read.
		var existing WhatsAppTemplate
		if err2 := tx.WithContext(ctx).
			Where("master_id = ? AND whatsapp_template_name = ?", masterId, approvedName).
			First(&existing).Error; err2 == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &template, nil
}
