package dto

import (
	"time"

	"github.com/yigit/coursechat/internal/app/models"
)

// --- Request DTOs ---

// SendChatMessageRequest is published on the socket or POSTed to the send endpoint
type SendChatMessageRequest struct {
	TempID     string             `json:"tempId" binding:"required" validate:"required"`
	ChannelID  string             `json:"channelId" binding:"required" validate:"required"`
	Kind       string             `json:"kind" binding:"required,oneof=TEXT FILE AUDIO VIDEO" validate:"required,oneof=TEXT FILE AUDIO VIDEO"`
	Content    string             `json:"content" binding:"required_if=Kind TEXT" validate:"required_if=Kind TEXT"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

// GetChatMessagesRequest represents pagination parameters for the history endpoint
type GetChatMessagesRequest struct {
	Page int `form:"page,default=1" binding:"min=1"`
	Size int `form:"size,default=30" binding:"min=1,max=100"`
}

// --- Response DTOs ---

// ChatMessageResponse is the wire shape of a confirmed message, both in history pages
// and in live frames
type ChatMessageResponse struct {
	ID         string             `json:"id"`
	TempID     string             `json:"tempId,omitempty"`
	ChannelID  string             `json:"channelId"`
	SenderID   string             `json:"senderId"`
	SenderName string             `json:"senderName,omitempty"`
	SenderRole string             `json:"senderRole,omitempty"`
	Kind       string             `json:"kind"`
	Content    string             `json:"content,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// ChatEvent is the body of a frame delivered on a channel topic
type ChatEvent struct {
	// Type is "message" or "delete"
	Type    string               `json:"type"`
	Message *ChatMessageResponse `json:"message,omitempty"`
	// MessageID is set for deletions
	MessageID string `json:"messageId,omitempty"`
}

// Chat event types
const (
	ChatEventMessage = "message"
	ChatEventDelete  = "delete"
)

// ChatMessagePage is the data section of a history response
type ChatMessagePage struct {
	Messages   []ChatMessageResponse `json:"messages"`
	Pagination PaginationInfo        `json:"pagination"`
}

// SendAcknowledgement is returned by the send endpoint. It is not the authoritative
// message; that arrives on the channel topic.
type SendAcknowledgement struct {
	TempID string `json:"tempId"`
	Status string `json:"status"`
}

// ToChatMessageResponse transforms a models.Message into its wire form
func ToChatMessageResponse(message *models.Message) ChatMessageResponse {
	return ChatMessageResponse{
		ID:         message.ID,
		TempID:     message.TempID,
		ChannelID:  message.ChannelID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		SenderRole: string(message.SenderRole),
		Kind:       string(message.Kind),
		Content:    message.Content,
		Attachment: message.Attachment,
		CreatedAt:  message.CreatedAt,
	}
}

// ToModel converts a confirmed wire message into a timeline message
func (r *ChatMessageResponse) ToModel() models.Message {
	return models.Message{
		ID:         r.ID,
		TempID:     r.TempID,
		ChannelID:  r.ChannelID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		SenderRole: models.Role(r.SenderRole),
		Kind:       models.MessageKind(r.Kind),
		Content:    r.Content,
		Attachment: r.Attachment,
		CreatedAt:  r.CreatedAt,
		Status:     models.MessageStatusConfirmed,
	}
}

// NewSendChatMessageRequest builds the outbound request for an optimistic message
func NewSendChatMessageRequest(message *models.Message) SendChatMessageRequest {
	return SendChatMessageRequest{
		TempID:     message.TempID,
		ChannelID:  message.ChannelID,
		Kind:       string(message.Kind),
		Content:    message.Content,
		Attachment: message.Attachment,
	}
}
