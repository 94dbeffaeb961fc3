package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"bitbucket.org/mmdatafocus/collections_backend/whatsapp"
	"bitbucket.org/mmdatafocus/collections_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// respondBindError maps binding failures to 400, with per-field tags when
// the failure comes from struct validation.
func respondBindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(validationErrors)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func respondError(c *gin.Context, err error) {
	switch {
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// --- payments ---

type ingestRequest struct {
	Rows         []workflow.PaymentRow           `json:"rows" binding:"required"`
	Notification *workflow.NotificationDirective `json:"notification"`
}

func ingestPaymentsHandler(sender whatsapp.Sender) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(req.Rows) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rows must not be empty"})
			return
		}
		master, err := models.GetMaster(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		results := workflow.IngestPayments(c.Request.Context(), master, req.Rows, req.Notification, sender)
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func recordPaymentHandler(c *gin.Context) {
	var input models.NewPaymentMatch
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	match, err := models.RecordPayment(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, match)
}

func unmatchedPaymentsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var agentId *int
	if raw := c.Query("agent_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent_id"})
			return
		}
		agentId = &id
	}
	payments, err := models.GetUnmatchedPayments(config.GetDB(), ctx, masterId, agentId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// --- reconciliation ---

type reconcileRequest struct {
	AgentId *int `json:"agent_id"`
}

func runReconciliationHandler(c *gin.Context) {
	ctx := c.Request.Context()
	masterId, ok := utils.GetMasterIdFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	record, err := workflow.Reconcile(ctx, masterId, req.AgentId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func listReconciliationsHandler(c *gin.Context) {
	records, err := models.GetReconciliationRecords(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciliations": records})
}

func getReconciliationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	record, err := models.GetReconciliationRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// --- collections ---

func createCollectionHandler(c *gin.Context) {
	var input models.NewCollection
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	collection, err := models.CreateCollection(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, collection)
}

func listCollectionsHandler(c *gin.Context) {
	var filter models.CollectionFilter
	if raw := c.Query("status"); raw != "" {
		status := models.CollectionStatus(raw)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("agent_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent_id"})
			return
		}
		filter.AgentId = &id
	}
	filter.Overdue = c.Query("overdue") == "true"

	collections, err := models.GetCollections(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

func getCollectionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	collection, err := models.GetCollection(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

type markPaidRequest struct {
	TransactionReference string               `json:"transaction_reference"`
	PaymentMethod        models.PaymentMethod `json:"payment_method"`
	Note                 string               `json:"note"`
}

// transitionCollection loads the collection and applies fn inside one
// transaction under the agent mutation lock, so manual transitions and
// reconcile runs contend on the same locks.
func transitionCollection(c *gin.Context, fn func(tx *gorm.DB, collection *models.Collection) error) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	collection, err := models.GetCollection(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := workflow.AcquireAgentMutationLock(tx, collection.MasterId, collection.AgentId); err != nil {
			return err
		}
		defer workflow.ReleaseAgentMutationLock(tx, collection.MasterId, collection.AgentId)
		return fn(tx, collection)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func markPaidHandler(c *gin.Context) {
	var req markPaidRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	transitionCollection(c, func(tx *gorm.DB, collection *models.Collection) error {
		return collection.MarkPaid(tx, c.Request.Context(), req.TransactionReference, req.PaymentMethod, req.Note)
	})
}

type noteRequest struct {
	Note string `json:"note"`
}

func markFailedHandler(c *gin.Context) {
	var req noteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	transitionCollection(c, func(tx *gorm.DB, collection *models.Collection) error {
		return collection.MarkFailed(tx, c.Request.Context(), req.Note)
	})
}

func cancelCollectionHandler(c *gin.Context) {
	var req noteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	transitionCollection(c, func(tx *gorm.DB, collection *models.Collection) error {
		return collection.Cancel(tx, c.Request.Context(), req.Note)
	})
}

func addCollectionNoteHandler(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Note == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "note is required"})
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	collection, err := models.GetCollection(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := collection.AppendNote(config.GetDB(), ctx, req.Note); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sendReminderHandler(sender whatsapp.Sender) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		message, err := workflow.SendCollectionReminder(c.Request.Context(), id, sender)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, message)
	}
}

// --- agents ---

func createAgentHandler(c *gin.Context) {
	var input models.NewAgent
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	agent, err := models.CreateAgent(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func listAgentsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	// An exact number lookup returns the single matching agent; the number
	// is normalized first so any accepted phone format resolves.
	if raw := c.Query("number"); raw != "" {
		masterId, ok := utils.GetMasterIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		agent, err := models.GetAgentByWhatsappNumber(ctx, masterId, raw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": []*models.Agent{agent}})
		return
	}
	var name *string
	if raw := c.Query("name"); raw != "" {
		name = &raw
	}
	agents, err := models.GetAgents(ctx, name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func getAgentHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	agent, err := models.GetAgent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func deactivateAgentHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	agent, err := models.DeactivateAgent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// --- admin ---

type adminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func adminLoginHandler(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := models.AdminLogin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func createMasterHandler(c *gin.Context) {
	var input models.NewMaster
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	master, err := models.CreateMaster(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	// The key is shown exactly once, at provisioning time.
	c.JSON(http.StatusCreated, gin.H{"master": master, "api_key": master.ApiKey})
}

type toggleMasterRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleMasterHandler(c *gin.Context) {
	masterId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req toggleMasterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	master, err := models.ToggleActiveMaster(c.Request.Context(), masterId, *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, master)
}
