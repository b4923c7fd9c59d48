package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yigit/coursechat/internal/app/controllers"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/middleware"
	"github.com/yigit/coursechat/internal/pkg/websocket"
)

// SetupRouter configures all application routes. authController may be nil, in which
// case the development token endpoint is not exposed.
func SetupRouter(
	router *gin.Engine,
	chatController *controllers.ChatController,
	authController *controllers.AuthController,
	wsHandler *websocket.Handler,
	authMiddleware *middleware.AuthMiddleware,
) {
	// API version group
	v1 := router.Group("/api/v1")

	if authController != nil {
		auth := v1.Group("/auth")
		{
			auth.POST("/token", middleware.ValidateBody[dto.DevTokenRequest](), authController.IssueToken)
		}
	}

	// --- Authenticated Routes Group ---
	authenticated := v1.Group("")
	authenticated.Use(authMiddleware.JWTAuth())
	{
		channels := authenticated.Group("/channels/:channelId")
		{
			channels.GET("/messages", chatController.GetChatMessages)
			channels.POST("/messages", middleware.ValidateBody[dto.SendChatMessageRequest](), chatController.SendChatMessage)
			channels.DELETE("/messages/:messageId", chatController.DeleteChatMessage)
		}
	}

	// The websocket endpoint authenticates before the upgrade
	router.GET("/ws", authMiddleware.JWTAuth(), wsHandler.HandleConnection)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "status": "success"})
	})
}
