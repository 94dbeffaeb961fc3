// seed-admin creates or updates the operator console user.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Override the defaults with ADMIN_USERNAME / ADMIN_PASSWORD.
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "collectionsAdmin"
	defaultAdminName     = "Collections Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = defaultAdminUsername
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	var existing models.AdminUser
	err := db.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup admin user: %v\n", err)
			os.Exit(1)
		}
		if _, err := models.CreateAdminUser(ctx, username, password, defaultAdminName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q\n", username)
		return
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	if err := db.WithContext(ctx).Model(&models.AdminUser{}).Where("username = ?", username).Updates(map[string]any{
		"password":  string(hashed),
		"is_active": utils.NewTrue(),
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: username=%q\n", username)
}
