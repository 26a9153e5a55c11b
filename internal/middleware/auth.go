package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/services"
)

const (
	callerIDKey   = "caller_id"
	callerTierKey = "caller_tier"
)

// Identity resolves an optional bearer token. A valid token pins the caller
// id for the request; no token at all is fine and leaves the caller
// anonymous. A token that is present but invalid is rejected outright.
func Identity(authService *services.AuthService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !authService.Enabled() {
			c.Next()
			return
		}

		callerID, tier, err := authService.ResolveBearer(header)
		if err != nil {
			logger.WithError(err).Warn("Rejected bearer token")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_TOKEN",
					"message": "Invalid or expired token",
				},
			})
			c.Abort()
			return
		}

		c.Set(callerIDKey, callerID)
		c.Set(callerTierKey, tier)
		c.Next()
	}
}

// CallerID returns the authenticated caller id, or 0 for anonymous requests.
func CallerID(c *gin.Context) int64 {
	if v, ok := c.Get(callerIDKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// CallerTier returns the caller's rate-limit tier, defaulting to "default".
func CallerTier(c *gin.Context) string {
	if v, ok := c.Get(callerTierKey); ok {
		if tier, ok := v.(string); ok && tier != "" {
			return tier
		}
	}
	return "default"
}
