// webhook-worker runs the webhook outbox dispatcher as a standalone process,
// for deployments where HTTP serving and delivery are scaled separately. The
// in-server dispatcher tolerates this: rows are claimed with SKIP LOCKED, so
// extra workers just share the queue.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//   REDIS_ADDRESS=... go run ./cmd/webhook-worker
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/webhook"
	"bitbucket.org/mmdatafocus/collections_backend/workflow"
)

func main() {
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		logger.Fatal("database not initialized (config.GetDB returned nil). Set DB_* env vars.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("webhook worker started")
	workflow.NewWebhookDispatcher(db, logger, webhook.NewSender()).Run(ctx)
	logger.Info("webhook worker stopped")
}
