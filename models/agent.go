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

// Agent is a payer entity scoped to a master. The normalized WhatsApp number
// is its identity key within the master. Agents are never hard-deleted;
// IsActive is a tombstone consulted by every lookup.
type Agent struct {
	ID             int             `gorm:"primary_key" json:"id"`
	MasterId       string          `gorm:"size:64;not null;index:uniq_agent_number,unique" json:"master_id"`
	Name           string          `gorm:"size:255;not null" json:"name" binding:"required"`
	WhatsappNumber string          `gorm:"size:20;not null;index:uniq_agent_number,unique" json:"whatsapp_number" binding:"required"`
	PhoneNumber    string          `gorm:"size:20;default:null" json:"phone_number"`
	RiskScore      decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"risk_score"`
	IsActive       *bool           `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAgent struct {
	Name           string          `json:"name" binding:"required"`
	WhatsappNumber string          `json:"whatsapp_number" binding:"required"`
	PhoneNumber    string          `json:"phone_number"`
	RiskScore      decimal.Decimal `json:"risk_score"`
}

func (input *NewAgent) validate(ctx context.Context, masterId string) error {
	if input.RiskScore.IsNegative() || input.RiskScore.GreaterThan(decimal.NewFromInt(100)) {
		return utils.NewValidationError("risk_score", "must be between 0 and 100")
	}
	normalized := utils.NormalizePhone(input.WhatsappNumber)
	if err := utils.ValidatePhoneNumber(normalized, utils.CountryCode); err != nil {
		return utils.NewValidationError("whatsapp_number", "invalid phone number")
	}
	if err := utils.ValidateUnique[Agent](ctx, masterId, "whatsapp_number", normalized, 0); err != nil {
		return err
	}
	return nil
}

func CreateAgent(ctx context.Context, input *NewAgent) (*Agent, error) {

	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}

	if err := input.validate(ctx, masterId); err != nil {
		return nil, err
	}

	agent := Agent{
		MasterId:       masterId,
		Name:           input.Name,
		WhatsappNumber: utils.NormalizePhone(input.WhatsappNumber),
		PhoneNumber:    utils.NormalizePhone(input.WhatsappNumber),
		RiskScore:      input.RiskScore,
		IsActive:       utils.NewTrue(),
	}
	if input.PhoneNumber != "" {
		agent.PhoneNumber = utils.NormalizePhone(input.PhoneNumber)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetOrCreateAgent resolves an agent by (master, normalized number), creating
// it when absent. The lookup includes tombstoned rows: the unique key covers
// them, and an agent that pays again is simply reactivated. A differing
// stored name is overwritten with the incoming one (last write wins).
func GetOrCreateAgent(tx *gorm.DB, ctx context.Context, masterId string, name string, phoneNumber string) (*Agent, error) {
	normalized := utils.NormalizePhone(phoneNumber)

	var agent Agent
	err := tx.WithContext(ctx).
		Where("master_id = ? AND whatsapp_number = ?", masterId, normalized).
		First(&agent).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		agent = Agent{
			MasterId:       masterId,
			Name:           name,
			WhatsappNumber: normalized,
			PhoneNumber:    normalized,
			IsActive:       utils.NewTrue(),
		}
		err := tx.WithContext(ctx).Create(&agent).Error
		if err == nil {
			return &agent, nil
		}
		if !utils.IsDuplicateKeyError(err) {
			return nil, err
		}
		// Lost a create race on the unique key; fall through to the
		// existing row.
		if err := tx.WithContext(ctx).
			Where("master_id = ? AND whatsapp_number = ?", masterId, normalized).
			First(&agent).Error; err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{}
	if agent.Name != name {
		agent.Name = name
		updates["name"] = name
	}
	if agent.IsActive == nil || !*agent.IsActive {
		agent.IsActive = utils.NewTrue()
		updates["is_active"] = true
	}
	if len(updates) > 0 {
		if err := tx.WithContext(ctx).Model(&Agent{}).Where("id = ?", agent.ID).
			Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &agent, nil
}

func GetAgent(ctx context.Context, id int) (*Agent, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	db := config.GetDB()
	var result Agent
	err := db.WithContext(ctx).
		Where("master_id = ? AND is_active = 1", masterId).
		First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetAgentByWhatsappNumber(ctx context.Context, masterId string, whatsappNumber string) (*Agent, error) {
	normalized := utils.NormalizePhone(whatsappNumber)
	db := config.GetDB()
	var result Agent
	err := db.WithContext(ctx).
		Where("master_id = ? AND whatsapp_number = ? AND is_active = 1", masterId, normalized).
		First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetAgents(ctx context.Context, name *string) ([]*Agent, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	db := config.GetDB()
	var results []*Agent
	dbCtx := db.WithContext(ctx).Where("master_id = ? AND is_active = 1", masterId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// DeactivateAgent tombstones the agent. The row stays in place so historical
// collections and payments keep resolving.
func DeactivateAgent(ctx context.Context, id int) (*Agent, error) {
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok || masterId == "" {
		return nil, errors.New("master id is required")
	}
	db := config.GetDB()
	var agent Agent
	if err := db.WithContext(ctx).Where("master_id = ?", masterId).First(&agent, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	agent.IsActive = utils.NewFalse()
	if err := db.WithContext(ctx).Save(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}
