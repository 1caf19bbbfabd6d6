package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/questline-backend/internal/platform/ctxutil"
	"github.com/yungbote/questline-backend/internal/platform/httpx"
	"github.com/yungbote/questline-backend/internal/platform/logger"
	"github.com/yungbote/questline-backend/internal/services"
)

type AuthMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
	serviceKey  string
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService, serviceKey string) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, authService: authService, serviceKey: serviceKey}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractTokenFromAll(c)
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, "missing or invalid token", "unauthorized")
			return
		}
		ctx, err := am.authService.SetContextFromToken(c.Request.Context(), tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err.Error())
			abort(c, http.StatusUnauthorized, "missing or invalid token", "unauthorized")
			return
		}
		rd := ctxutil.GetRequestData(ctx)
		if rd == nil || rd.UserID == "" {
			abort(c, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", rd.UserID)
		c.Next()
	}
}

// RequireServiceKey guards internal routes called by sibling services.
func (am *AuthMiddleware) RequireServiceKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(httpx.HeaderServiceKey)
		if am.serviceKey == "" || got == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(am.serviceKey)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid service key", "unauthorized")
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{Service: true})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"message": msg, "code": code},
	})
}

func extractTokenFromAll(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
