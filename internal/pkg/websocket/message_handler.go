package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
)

// SendProcessor persists a SEND frame and publishes the resulting event
type SendProcessor interface {
	ProcessSend(ctx context.Context, in *Inbound) error
}

// MessageHandler drains SEND frames from the hub into a SendProcessor
type MessageHandler struct {
	processor SendProcessor
	hub       *Hub
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(processor SendProcessor, hub *Hub, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		processor: processor,
		hub:       hub,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

// Start begins processing messages from the hub
func (h *MessageHandler) Start() {
	messageChan := make(chan *Inbound, 64)
	h.hub.AddMessageListener(messageChan)
	go h.processMessages(messageChan)
}

func (h *MessageHandler) processMessages(messageChan chan *Inbound) {
	for {
		select {
		case in := <-messageChan:
			h.handle(in)
		case <-h.hub.done:
			h.hub.RemoveMessageListener(messageChan)
			return
		}
	}
}

func (h *MessageHandler) handle(in *Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.processor.ProcessSend(ctx, in); err != nil {
		h.logger.Warn().
			Err(err).
			Str("userID", in.Sender.UserID).
			Str("destination", in.Destination).
			Msg("Rejected websocket send")

		code := "SEND_FAILED"
		if errors.Is(err, apperrors.ErrValidationFailed) || errors.Is(err, apperrors.ErrBadRequest) {
			code = "INVALID_MESSAGE"
		}
		var ref struct {
			TempID string `json:"tempId"`
		}
		_ = json.Unmarshal(in.Body, &ref)
		in.Client.SendFrame(sendErrorFrame(code, err.Error(), ref.TempID))
	}
}
