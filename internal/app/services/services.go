package services

import (
	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/repositories"
)

// Services holds the business services of the chat server
type Services struct {
	ChatService ChatService
}

// NewServices wires the services onto the repositories and the realtime publisher
func NewServices(repos *repositories.Repositories, publisher Publisher, logger zerolog.Logger) *Services {
	return &Services{
		ChatService: NewChatService(repos.ChatRepository, publisher, logger),
	}
}
