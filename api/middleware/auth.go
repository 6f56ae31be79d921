// api/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/fleetwatch/services/telemetry/internal/models"
	"example.com/fleetwatch/services/telemetry/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// contextKey is a type for context keys
type contextKey string

// Context keys
const (
	APIKeyContextKey contextKey = "api_key"
)

// APIKeyAuth middleware validates API tokens from the Authorization header
// (or, for websocket connects where headers are awkward for browser clients,
// the access_token query parameter). The key's organization becomes the
// caller's tenant identity.
func APIKeyAuth(repo repository.Repository, log *logrus.Logger, requiredLevel models.AuthorizationLevel) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization required",
			})
			c.Abort()
			return
		}

		apiKey, err := repo.GetAPIKeyByKey(c.Request.Context(), token)
		if err != nil {
			log.WithError(err).Warn("Invalid API key")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		if apiKey.ExpiresAt != nil && apiKey.ExpiresAt.Before(time.Now()) {
			log.Warn("Expired API key")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "API key expired",
			})
			c.Abort()
			return
		}

		if apiKey.AuthorizationLevel < requiredLevel {
			log.Warnf("Insufficient permissions. Required: %d, Provided: %d",
				requiredLevel, apiKey.AuthorizationLevel)
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			c.Abort()
			return
		}

		// Update last used timestamp off the request path
		now := time.Now()
		apiKey.LastUsedAt = &now
		go func() {
			repo.UpdateAPIKey(context.Background(), apiKey)
		}()

		c.Set(string(APIKeyContextKey), apiKey)

		c.Next()
	}
}

// bearerToken extracts the API token from the Authorization header or the
// access_token query parameter
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("access_token")
}

// GetAPIKeyFromContext retrieves the authenticated API key from the context
func GetAPIKeyFromContext(c *gin.Context) (*models.APIKey, error) {
	keyVal, exists := c.Get(string(APIKeyContextKey))
	if !exists {
		return nil, errors.New("api key not found in context")
	}

	apiKey, ok := keyVal.(*models.APIKey)
	if !ok {
		return nil, errors.New("api key in context has incorrect type")
	}

	return apiKey, nil
}
