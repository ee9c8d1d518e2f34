package auth

import (
	"net/http"
	"strings"

	"github.com/abduss/gomedia/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const userContextKey = "gomediaUser"

// ContextUser is the authenticated principal stored in the request context.
type ContextUser struct {
	ID      uuid.UUID
	Email   string
	IsAdmin bool
}

// AuthMiddleware validates bearer tokens and injects the authenticated user.
func AuthMiddleware(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, reason := bearerToken(c.GetHeader("Authorization"))
		if reason != "" {
			reject(c, reason)
			return
		}

		claims, err := service.ValidateAccessToken(token)
		if err != nil {
			reject(c, "invalid or expired token")
			return
		}

		c.Set(userContextKey, ContextUser{ID: claims.UserID, Email: claims.Email, IsAdmin: claims.IsAdmin})
		c.Next()
	}
}

func reject(c *gin.Context, reason string) {
	logger.With(zap.L(), c).Debug("request rejected", zap.String("reason", reason), zap.String("path", c.FullPath()))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}

// CurrentUser extracts the authenticated user from the context.
func CurrentUser(c *gin.Context) (ContextUser, bool) {
	value, exists := c.Get(userContextKey)
	if !exists {
		return ContextUser{}, false
	}
	user, ok := value.(ContextUser)
	return user, ok && user.ID != uuid.Nil
}

// RequireUser returns the authenticated user and its id.
func RequireUser(c *gin.Context) (uuid.UUID, ContextUser, bool) {
	user, ok := CurrentUser(c)
	if !ok {
		return uuid.Nil, ContextUser{}, false
	}
	return user.ID, user, true
}

func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", "invalid authorization header"
	}
	return strings.TrimSpace(token), ""
}
