package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/middlewares"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/webhook"
	"bitbucket.org/mmdatafocus/collections_backend/whatsapp"
	"bitbucket.org/mmdatafocus/collections_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe passes. Until DB/Redis
	// are ready, app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Outbound WhatsApp gateway is optional; without credentials every
	// notification is recorded as failed and ingestion still works.
	sender, err := whatsapp.NewClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "whatsapp"}).Warn("gateway not configured: " + err.Error())
		sender = nil
	}

	api := r.Group("/api/v1", middlewares.ApiKeyMiddleware())
	{
		api.POST("/payments/ingest", ingestPaymentsHandler(sender))
		api.POST("/payments", recordPaymentHandler)
		api.GET("/payments/unmatched", unmatchedPaymentsHandler)

		api.POST("/reconciliation/run", runReconciliationHandler)
		api.GET("/reconciliation", listReconciliationsHandler)
		api.GET("/reconciliation/:id", getReconciliationHandler)

		api.POST("/collections", createCollectionHandler)
		api.GET("/collections", listCollectionsHandler)
		api.GET("/collections/:id", getCollectionHandler)
		api.POST("/collections/:id/mark-paid", markPaidHandler)
		api.POST("/collections/:id/mark-failed", markFailedHandler)
		api.POST("/collections/:id/cancel", cancelCollectionHandler)
		api.POST("/collections/:id/notes", addCollectionNoteHandler)
		api.POST("/collections/:id/send-reminder", sendReminderHandler(sender))

		api.POST("/agents", createAgentHandler)
		api.GET("/agents", listAgentsHandler)
		api.GET("/agents/:id", getAgentHandler)
		api.DELETE("/agents/:id", deactivateAgentHandler)
	}

	r.POST("/admin/login", adminLoginHandler)
	admin := r.Group("/admin", middlewares.AdminJwtMiddleware())
	{
		admin.POST("/masters", createMasterHandler)
		admin.POST("/masters/:id/toggle-active", toggleMasterHandler)
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Webhook dispatcher delivers outbox rows AFTER commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewWebhookDispatcher(db, logger, webhook.NewSender()).Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't claim new deliveries while
	// we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
