package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
)

// AdminUser is a platform operator. Admin auth (JWT) guards master
// provisioning; it is separate from master API-key auth.
type AdminUser struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;uniqueIndex;not null" json:"username" binding:"required"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Name      string    `gorm:"size:100" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateAdminUser(ctx context.Context, username, password, name string) (*AdminUser, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := AdminUser{
		Username: username,
		Password: string(hashed),
		Name:     name,
		IsActive: utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AdminLogin verifies credentials and returns a signed JWT.
func AdminLogin(ctx context.Context, username, password string) (string, error) {
	db := config.GetDB()
	var user AdminUser
	err := db.WithContext(ctx).
		Where("username = ? AND is_active = 1", username).
		First(&user).Error
	if err != nil {
		return "", errors.New("invalid credentials")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return "", errors.New("invalid credentials")
	}
	return utils.JwtGenerate(user.ID, "admin")
}
