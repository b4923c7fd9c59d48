// Package controllers handles HTTP request handling
package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/middleware"
	"github.com/yigit/coursechat/internal/pkg/auth"
)

// AuthController mints development tokens. It is only routed outside production mode.
type AuthController struct {
	jwtService *auth.JWTService
	logger     zerolog.Logger
}

// NewAuthController creates a new AuthController
func NewAuthController(jwtService *auth.JWTService, logger zerolog.Logger) *AuthController {
	return &AuthController{
		jwtService: jwtService,
		logger:     logger,
	}
}

// IssueToken handles dev token requests
// @Summary Mint a development token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.DevTokenRequest true "Identity to embed"
// @Success 200 {object} dto.APIResponse{data=dto.TokenResponse}
// @Failure 400 {object} dto.ErrorResponse "Invalid request format"
// @Router /auth/token [post]
func (c *AuthController) IssueToken(ctx *gin.Context) {
	req, ok := middleware.ValidatedBody[dto.DevTokenRequest](ctx)
	if !ok {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Missing request body")))
		return
	}

	sender := models.Sender{ID: req.UserID, Name: req.Name, Role: req.Role}
	token, expiresIn, err := c.jwtService.GenerateToken(sender)
	if err != nil {
		c.logger.Error().Err(err).Str("userID", req.UserID).Msg("Failed to generate token")
		middleware.HandleAPIError(ctx, err)
		return
	}

	c.logger.Info().Str("userID", req.UserID).Str("role", string(req.Role)).Msg("Issued development token")
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresIn),
	}))
}
