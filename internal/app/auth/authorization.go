package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/repositories"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/logger"
)

// AuthorizationService handles authorization of chat message operations
type AuthorizationService struct {
	chatRepo repositories.ChatRepository
}

// NewAuthorizationService creates a new AuthorizationService
func NewAuthorizationService(chatRepo repositories.ChatRepository) *AuthorizationService {
	return &AuthorizationService{chatRepo: chatRepo}
}

// IsInstructor checks if the sender is an instructor
func IsInstructor(sender models.Sender) bool {
	return sender.Role == models.RoleInstructor
}

// CanModifyMessage loads a message of channelID and reports whether requester may
// modify it. Senders own their messages; instructors moderate every channel.
func (s *AuthorizationService) CanModifyMessage(ctx context.Context, requester models.Sender, channelID, messageID string) (*models.Message, bool, error) {
	message, err := s.chatRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, apperrors.ErrResourceNotFound) {
			return nil, false, err
		}
		logger.Error().Err(err).Str("messageID", messageID).Msg("Error getting chat message in CanModifyMessage")
		return nil, false, fmt.Errorf("failed to load chat message: %w", err)
	}
	// a message addressed through the wrong channel does not exist there
	if message.ChannelID != channelID {
		return nil, false, apperrors.NewResourceNotFoundError("Chat message not found")
	}

	return message, message.SenderID == requester.ID || IsInstructor(requester), nil
}

// ValidateMessageOwnership returns the message when requester may modify it, or a
// permission error
func (s *AuthorizationService) ValidateMessageOwnership(ctx context.Context, requester models.Sender, channelID, messageID string) (*models.Message, error) {
	message, ok, err := s.CanModifyMessage(ctx, requester, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewForbiddenError("Only the sender or an instructor can delete this message")
	}
	return message, nil
}
