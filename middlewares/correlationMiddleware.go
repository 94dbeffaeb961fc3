package middlewares

import (
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-Id"

// CorrelationMiddleware tags every request with a correlation id, taken from
// the caller if present. The id flows through the context into log lines and
// webhook outbox rows, and is echoed back on the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.Request.Header.Get(correlationHeader)
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(correlationHeader, correlationId)
		c.Next()
	}
}
