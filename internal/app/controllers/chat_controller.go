package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/app/services"
	"github.com/yigit/coursechat/internal/middleware"
	"github.com/yigit/coursechat/internal/pkg/helpers"
)

// ChatController handles chat message operations
type ChatController struct {
	chatService services.ChatService
	logger      zerolog.Logger
}

// NewChatController creates a new ChatController
func NewChatController(chatService services.ChatService, logger zerolog.Logger) *ChatController {
	return &ChatController{
		chatService: chatService,
		logger:      logger,
	}
}

// GetChatMessages godoc
// @Summary Get channel history
// @Description Page 1 holds the newest messages
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param channelId path string true "Channel ID"
// @Param page query int false "Page number (default: 1)"
// @Param size query int false "Page size (default: 30, max: 100)"
// @Success 200 {object} dto.APIResponse{data=dto.ChatMessagePage}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Router /channels/{channelId}/messages [get]
func (c *ChatController) GetChatMessages(ctx *gin.Context) {
	channelID := ctx.Param("channelId")
	page, size := helpers.ParsePaginationParams(ctx)

	result, err := c.chatService.GetMessages(ctx, channelID, page, size)
	if err != nil {
		c.logger.Warn().Err(err).Str("channelID", channelID).Msg("Error getting chat messages")
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(result))
}

// SendChatMessage godoc
// @Summary Send a message to a channel
// @Description The stored message is delivered on the channel topic; the response only acknowledges the tempId
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param channelId path string true "Channel ID"
// @Param request body dto.SendChatMessageRequest true "Message"
// @Success 202 {object} dto.APIResponse{data=dto.SendAcknowledgement}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /channels/{channelId}/messages [post]
func (c *ChatController) SendChatMessage(ctx *gin.Context) {
	sender, ok := middleware.SenderFromContext(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	req, ok := middleware.ValidatedBody[dto.SendChatMessageRequest](ctx)
	if !ok {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Missing request body")))
		return
	}

	ack, err := c.chatService.SendMessage(ctx, sender, ctx.Param("channelId"), req)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("channelID", ctx.Param("channelId")).
			Str("tempID", req.TempID).
			Msg("Rejected chat message")
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, dto.NewSuccessResponse(ack))
}

// DeleteChatMessage godoc
// @Summary Delete a message
// @Description Allowed for the sender and for instructors. Subscribers receive a delete event.
// @Tags chat
// @Security BearerAuth
// @Param channelId path string true "Channel ID"
// @Param messageId path string true "Message ID"
// @Success 204
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /channels/{channelId}/messages/{messageId} [delete]
func (c *ChatController) DeleteChatMessage(ctx *gin.Context) {
	requester, ok := middleware.SenderFromContext(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	if err := c.chatService.DeleteMessage(ctx, requester, ctx.Param("channelId"), ctx.Param("messageId")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}
