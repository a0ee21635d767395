package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portfolio/internal/auth"
	"portfolio/internal/database"
)

// ProfileContextKey 缓存本次请求已加载的 Profile。
const ProfileContextKey = "profile"

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware 校验访问令牌并将 userID 与改密标记注入上下文。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateTokenType(parts[1], auth.TokenTypeAccess)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("mustChangePassword", claims.MustChangePassword)
		c.Next()
	}
}

// ProfileLookup 按用户 ID 加载 Profile。
type ProfileLookup interface {
	ProfileByUserID(ctx context.Context, userID uint) (*database.Profile, error)
}

// RequireStaffMiddleware 只放行 staff 或超级用户，须挂在 AuthMiddleware 之后。
func RequireStaffMiddleware(profiles ProfileLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get("userID")
		userID, isUint := value.(uint)
		if !ok || !isUint {
			abortUnauthorized(c)
			return
		}
		profile, err := profiles.ProfileByUserID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.Abort()
				return
			}
			LoggerFromContext(c).Info("staff check: profile lookup failed", slog.Any("error", err))
			abortUnauthorized(c)
			return
		}
		if !profile.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff only"})
			return
		}
		c.Set(ProfileContextKey, profile)
		c.Next()
	}
}
