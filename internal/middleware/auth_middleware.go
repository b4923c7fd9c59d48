package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/auth"
	"github.com/yigit/coursechat/internal/pkg/websocket"
)

// AuthMiddleware for authentication and authorization
type AuthMiddleware struct {
	jwtService *auth.JWTService
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(jwtService *auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// JWTAuth middleware for JWT token validation. The websocket route uses it too, so a bad
// token is refused before the upgrade and the client sees a plain 401.
func (m *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		// Browsers cannot set headers on a websocket dial
		if authHeader == "" {
			authHeader = c.Query("token")
		}

		if authHeader == "" {
			errorDetail := dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")
			errorDetail = errorDetail.WithDetails("Authorization header missing")

			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(errorDetail))
			return
		}

		tokenString, err := auth.ExtractBearerToken(strings.Trim(authHeader, "\"'"))
		if err != nil {
			errorDetail := dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")
			errorDetail = errorDetail.WithDetails("Invalid token format")

			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(errorDetail))
			return
		}

		claims, err := m.jwtService.ValidateAndExtractClaims(tokenString)
		if err != nil {
			var errorDetail *dto.ErrorDetail
			if errors.Is(err, apperrors.ErrTokenExpired) {
				errorDetail = dto.NewErrorDetail(dto.ErrorCodeExpiredToken, "Token has expired")
			} else {
				errorDetail = dto.NewErrorDetail(dto.ErrorCodeInvalidToken, "Invalid token")
			}

			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(errorDetail))
			return
		}

		c.Set(websocket.ContextKeyUserID, claims.UserID)
		c.Set(websocket.ContextKeyUserName, claims.Name)
		c.Set(websocket.ContextKeyUserRole, string(claims.Role))

		c.Next()
	}
}

// RoleRequired only lets callers with one of roles through. It must run after JWTAuth.
func (m *AuthMiddleware) RoleRequired(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := models.Role(c.GetString(websocket.ContextKeyUserRole))

		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}

		errorDetail := dto.NewErrorDetail(dto.ErrorCodeForbidden, "Insufficient permissions")
		c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponse(errorDetail))
	}
}

// SenderFromContext rebuilds the authenticated identity stored by JWTAuth
func SenderFromContext(c *gin.Context) (models.Sender, bool) {
	userID := c.GetString(websocket.ContextKeyUserID)
	if userID == "" {
		return models.Sender{}, false
	}
	return models.Sender{
		ID:   userID,
		Name: c.GetString(websocket.ContextKeyUserName),
		Role: models.Role(c.GetString(websocket.ContextKeyUserRole)),
	}, true
}
