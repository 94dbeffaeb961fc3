package models

import (
	"log"

	"bitbucket.org/mmdatafocus/collections_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Master{}, &AdminUser{},
		&Agent{},
		&Collection{}, &CollectionNote{},
		&PaymentMatch{}, &ReconciliationRecord{},
		&WhatsAppTemplate{}, &WhatsAppMessage{},
		&WebhookDelivery{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
