package dto

import "github.com/yigit/coursechat/internal/app/models"

// DevTokenRequest asks the development server to mint a token for an identity
type DevTokenRequest struct {
	UserID string      `json:"userId" binding:"required" validate:"required,max=128"`
	Name   string      `json:"name" validate:"max=255"`
	Role   models.Role `json:"role" binding:"required" validate:"required,oneof=STUDENT INSTRUCTOR"`
}

// TokenResponse represents JWT token information
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType" example:"Bearer"`
	ExpiresIn   int64  `json:"expiresIn"`
}
