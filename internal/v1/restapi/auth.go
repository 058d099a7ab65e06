package restapi

import (
	"context"
	"net/http"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
	"github.com/pairhub/signaling-core/internal/v1/logging"
	"github.com/pairhub/signaling-core/internal/v1/tenant"
	"github.com/gin-gonic/gin"
)

const (
	headerAppID     = "X-App-Id"
	headerAppSecret = "X-App-Secret"

	tenantIDContextKey = "tenant_id"
)

// TenantAuth verifies the X-App-Id / X-App-Secret headers against the
// Tenant Store and stashes the authenticated tenant id in the gin context
// (also under logging.TenantIDKey, for log correlation) for downstream
// handlers and the rate limiter's per-tenant key.
func TenantAuth(tenants tenant.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.GetHeader(headerAppID)
		secret := c.GetHeader(headerAppSecret)
		if appID == "" || secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   string(apierr.CodeInvalidToken),
				"message": "X-App-Id and X-App-Secret headers are required",
			})
			return
		}

		t, err := tenants.VerifySecret(c.Request.Context(), appID, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   string(apierr.CodeInvalidToken),
				"message": "invalid app credentials",
			})
			return
		}

		c.Set(tenantIDContextKey, t.ID)
		c.Set(string(logging.TenantIDKey), t.ID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logging.TenantIDKey, t.ID))
		logging.Info(c.Request.Context(), "tenant authenticated")
		c.Next()
	}
}

func tenantIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(tenantIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
