package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/google/uuid"
)

const ApiKeyPrefixLive = "sk_live_"

// Master is a tenant account that collects payments from agents.
// Each master authenticates with its API key and may have a webhook
// endpoint with an HMAC signing secret.
type Master struct {
	ID            uuid.UUID `gorm:"primary_key" json:"id"`
	Name          string    `gorm:"index;size:255;not null" json:"name" binding:"required"`
	Email         string    `gorm:"size:255;uniqueIndex;not null" json:"email" binding:"required"`
	ApiKey        string    `gorm:"size:255;uniqueIndex;not null" json:"-"`
	WebhookUrl    string    `gorm:"size:500;default:null" json:"webhook_url"`
	WebhookSecret string    `gorm:"size:255;default:null" json:"-"`
	Timezone      string    `gorm:"size:50" json:"timezone"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaster struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required"`
	WebhookUrl    string `json:"webhook_url"`
	WebhookSecret string `json:"webhook_secret"`
	Timezone      string `json:"timezone"`
}

func (master *Master) StoreRedis() error {
	return config.SetRedisObject("Master:"+master.ID.String(), master, 0)
}

func (master *Master) RemoveRedis() error {
	return config.RemoveRedisKey("Master:" + master.ID.String())
}

func (input *NewMaster) validate(ctx context.Context) error {
	if input.Name == "" {
		return errors.New("name is required")
	}
	if !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email")
	}
	var count int64
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Master{}).Where("email = ?", input.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate email")
	}
	return nil
}

// CreateMaster provisions a tenant. The generated API key is returned on the
// struct exactly once; it is never exposed by read endpoints.
func CreateMaster(ctx context.Context, input *NewMaster) (*Master, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	apiKey, err := utils.GenerateApiKey(ApiKeyPrefixLive)
	if err != nil {
		return nil, err
	}

	timezone := "Africa/Dakar"
	if input.Timezone != "" {
		timezone = input.Timezone
	}

	master := Master{
		ID:            uuid.New(),
		Name:          input.Name,
		Email:         input.Email,
		ApiKey:        apiKey,
		WebhookUrl:    input.WebhookUrl,
		WebhookSecret: input.WebhookSecret,
		Timezone:      timezone,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&master).Error; err != nil {
		return nil, err
	}
	return &master, nil
}

func GetMasterById(ctx context.Context, id string) (*Master, error) {

	var result Master

	exists, err := config.GetRedisObject("Master:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		// db query
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func GetMaster(ctx context.Context) (*Master, error) {

	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	return GetMasterById(ctx, masterId)
}

// GetMasterByApiKey resolves an active master from its API key.
// Inactive masters are invisible here, so their keys stop working.
func GetMasterByApiKey(ctx context.Context, apiKey string) (*Master, error) {
	db := config.GetDB()
	var result Master
	err := db.WithContext(ctx).Where("api_key = ? AND is_active = 1", apiKey).First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func ToggleActiveMaster(ctx context.Context, id uuid.UUID, isActive bool) (*Master, error) {
	db := config.GetDB()
	var master Master
	if err := db.WithContext(ctx).First(&master, "id = ?", id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	master.IsActive = &isActive
	if err := db.WithContext(ctx).Save(&master).Error; err != nil {
		return nil, err
	}
	if err := master.RemoveRedis(); err != nil {
		return nil, err
	}
	return &master, nil
}
