package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/gin-gonic/gin"
)

const apiKeyScheme = "Api-Key "

// ApiKeyMiddleware authenticates tenant requests. The header is
// "Authorization: Api-Key sk_live_...", resolved against active masters;
// the master id is stored on the request context for the models layer.
func ApiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, apiKeyScheme) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		apiKey := strings.TrimSpace(auth[len(apiKeyScheme):])

		master, err := models.GetMasterByApiKey(c.Request.Context(), apiKey)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetMasterIdInContext(c.Request.Context(), master.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminJwtMiddleware authenticates operator requests on /admin routes with a
// bearer token issued by the admin login endpoint.
func AdminJwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		bearer := "Bearer "
		if auth == "" || !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		validate, err := utils.JwtValidate(auth[len(bearer):])
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok || claim.Role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}

		ctx := utils.SetAdminUserIdInContext(c.Request.Context(), claim.ID)
		ctx = utils.SetIsAdminInContext(ctx, true)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
