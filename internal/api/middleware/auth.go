package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/seomaster/report_server/internal/pkg/jwt"
	"github.com/seomaster/report_server/internal/pkg/response"
)

const (
	SessionKey = "session"
	// TokenCookie 浏览器端会话 cookie
	TokenCookie = "token"
)

// Session 已认证请求的会话
type Session struct {
	UserID string
	Email  string
}

// Auth 认证中间件，要求有效的会话令牌
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Abort(c, response.CodeAuthFailed, "Authentication required")
			return
		}

		claims, err := jwt.ParseToken(token, jwtSecret)
		if err != nil {
			response.Abort(c, response.CodeAuthFailed, "Invalid or expired token")
			return
		}

		// 验证令牌没有 userId，不能当作会话
		if claims.UserID == "" {
			response.Abort(c, response.CodeAuthFailed, "Invalid or expired token")
			return
		}

		c.Set(SessionKey, &Session{UserID: claims.UserID, Email: claims.Email})
		c.Next()
	}
}

// extractToken 优先 Authorization 头，其次 cookie
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := c.Cookie(TokenCookie); err == nil {
		return cookie
	}
	return ""
}

// GetSession 从上下文获取会话
func GetSession(c *gin.Context) (*Session, bool) {
	v, exists := c.Get(SessionKey)
	if !exists {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	s, ok := GetSession(c)
	if !ok || s.UserID == "" {
		return "", false
	}
	return s.UserID, true
}
