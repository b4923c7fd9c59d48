package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	appAuth "github.com/yigit/coursechat/internal/app/auth"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/app/repositories"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/helpers"
	"github.com/yigit/coursechat/internal/pkg/validation"
	"github.com/yigit/coursechat/internal/pkg/websocket"
)

// AckStatusAccepted is the only status the send endpoint returns
const AckStatusAccepted = "ACCEPTED"

// ChatService defines the interface for chat operations
type ChatService interface {
	GetMessages(ctx context.Context, channelID string, page, size int) (*dto.ChatMessagePage, error)
	SendMessage(ctx context.Context, sender models.Sender, channelID string, req *dto.SendChatMessageRequest) (*dto.SendAcknowledgement, error)
	DeleteMessage(ctx context.Context, requester models.Sender, channelID, messageID string) error
	websocket.SendProcessor
}

// Publisher fans an event out to the subscribers of a topic
type Publisher interface {
	Publish(topic string, body interface{}) error
}

// chatServiceImpl implements ChatService
type chatServiceImpl struct {
	chatRepo  repositories.ChatRepository
	authz     *appAuth.AuthorizationService
	publisher Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

// NewChatService creates a new ChatService
func NewChatService(chatRepo repositories.ChatRepository, publisher Publisher, logger zerolog.Logger) ChatService {
	return &chatServiceImpl{
		chatRepo:  chatRepo,
		authz:     appAuth.NewAuthorizationService(chatRepo),
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "chat_service").Logger(),
	}
}

// GetMessages returns one history page of a channel. Page 1 is the newest.
func (s *chatServiceImpl) GetMessages(ctx context.Context, channelID string, page, size int) (*dto.ChatMessagePage, error) {
	if channelID == "" {
		return nil, apperrors.NewBadRequestError("channel id is required")
	}
	page, size = helpers.NormalizePage(page, size)
	offset, limit := helpers.CalculateOffsetLimit(page, size)

	s.logger.Debug().
		Str("channelID", channelID).
		Int("page", page).
		Int("size", size).
		Msg("Retrieving chat messages")

	messages, total, err := s.chatRepo.ListByChannel(ctx, channelID, offset, limit)
	if err != nil {
		s.logger.Error().Err(err).
			Str("channelID", channelID).
			Msg("Failed to retrieve chat messages")
		return nil, fmt.Errorf("error retrieving chat messages: %w", err)
	}

	responses := make([]dto.ChatMessageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, dto.ToChatMessageResponse(&messages[i]))
	}

	return &dto.ChatMessagePage{
		Messages:   responses,
		Pagination: helpers.NewPaginationInfo(total, page, size),
	}, nil
}

// SendMessage stores a message and announces it on the channel topic. A retried send
// with a known tempId is acknowledged again and re-announced without a second row.
func (s *chatServiceImpl) SendMessage(
	ctx context.Context,
	sender models.Sender,
	channelID string,
	req *dto.SendChatMessageRequest,
) (*dto.SendAcknowledgement, error) {
	if req.ChannelID == "" {
		req.ChannelID = channelID
	}
	if req.ChannelID != channelID {
		return nil, apperrors.NewBadRequestError("channel id in body does not match the target channel")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	draft := models.Draft{
		Kind:       models.MessageKind(req.Kind),
		Content:    req.Content,
		Attachment: req.Attachment,
	}
	if err := validation.Struct(draft); err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:         uuid.New().String(),
		TempID:     req.TempID,
		ChannelID:  channelID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Kind:       draft.Kind,
		Content:    draft.Content,
		Attachment: draft.Attachment,
		CreatedAt:  s.now(),
	}

	stored, created, err := s.chatRepo.Create(ctx, message)
	if err != nil {
		s.logger.Error().Err(err).
			Str("channelID", channelID).
			Str("tempID", req.TempID).
			Msg("Failed to create chat message")
		return nil, fmt.Errorf("error creating chat message: %w", err)
	}

	if !created {
		s.logger.Info().
			Str("channelID", channelID).
			Str("tempID", req.TempID).
			Str("messageID", stored.ID).
			Msg("Duplicate send, re-announcing stored message")
	}

	response := dto.ToChatMessageResponse(stored)
	event := dto.ChatEvent{Type: dto.ChatEventMessage, Message: &response}
	if err := s.publisher.Publish(models.TopicFor(channelID), event); err != nil {
		// the message is stored; clients will see it in history
		s.logger.Warn().Err(err).
			Str("channelID", channelID).
			Str("messageID", stored.ID).
			Msg("Failed to broadcast chat message")
	} else {
		s.logger.Debug().
			Str("channelID", channelID).
			Str("messageID", stored.ID).
			Msg("Chat message broadcasted via WebSocket")
	}

	return &dto.SendAcknowledgement{TempID: req.TempID, Status: AckStatusAccepted}, nil
}

// DeleteMessage deletes a chat message and announces the deletion
func (s *chatServiceImpl) DeleteMessage(ctx context.Context, requester models.Sender, channelID, messageID string) error {
	if _, err := s.authz.ValidateMessageOwnership(ctx, requester, channelID, messageID); err != nil {
		return err
	}

	if err := s.chatRepo.Delete(ctx, messageID); err != nil {
		return err
	}

	event := dto.ChatEvent{Type: dto.ChatEventDelete, MessageID: messageID}
	if err := s.publisher.Publish(models.TopicFor(channelID), event); err != nil {
		s.logger.Warn().Err(err).
			Str("channelID", channelID).
			Str("messageID", messageID).
			Msg("Failed to broadcast message deletion")
	}

	s.logger.Info().
		Str("channelID", channelID).
		Str("messageID", messageID).
		Str("userID", requester.ID).
		Msg("Chat message deleted")
	return nil
}

// ProcessSend handles a SEND frame received over the socket
func (s *chatServiceImpl) ProcessSend(ctx context.Context, in *websocket.Inbound) error {
	channelID, ok := models.ChannelFromTopic(in.Destination)
	if !ok || in.Destination != models.SendDestinationFor(channelID) {
		return apperrors.NewBadRequestError("invalid send destination " + in.Destination)
	}

	var req dto.SendChatMessageRequest
	if err := json.Unmarshal(in.Body, &req); err != nil {
		return apperrors.NewBadRequestError("invalid message body")
	}

	sender := models.Sender{ID: in.Sender.UserID, Name: in.Sender.Name, Role: in.Sender.Role}
	_, err := s.SendMessage(ctx, sender, channelID, &req)
	return err
}
