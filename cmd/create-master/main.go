// create-master provisions a tenant account and prints its API key.
// The key is shown exactly once; only its hashless value in the DB can
// authenticate, so copy it now.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//   REDIS_ADDRESS=... go run ./cmd/create-master -name "Acme" -email ops@acme.sn
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
)

func main() {
	name := flag.String("name", "", "master display name (required)")
	email := flag.String("email", "", "master contact email (required)")
	webhookUrl := flag.String("webhook-url", "", "webhook endpoint URL")
	webhookSecret := flag.String("webhook-secret", "", "webhook HMAC signing secret")
	timezone := flag.String("timezone", "Africa/Dakar", "master timezone")
	flag.Parse()

	if *name == "" || *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	master, err := models.CreateMaster(ctx, &models.NewMaster{
		Name:          *name,
		Email:         *email,
		WebhookUrl:    *webhookUrl,
		WebhookSecret: *webhookSecret,
		Timezone:      *timezone,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create master: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created master %q\n", master.Name)
	fmt.Printf("  id:      %s\n", master.ID)
	fmt.Printf("  api key: %s\n", master.ApiKey)
	fmt.Println("Store the API key now; it will not be shown again.")
}
