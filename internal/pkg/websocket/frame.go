package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/yigit/coursechat/internal/pkg/apperrors"
)

// Frame commands exchanged on the socket
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandError       = "ERROR"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandMessage     = "MESSAGE"
	CommandDisconnect  = "DISCONNECT"
)

// Frame is one JSON envelope on the socket. Body is left raw so the layer above decides
// how to decode it.
type Frame struct {
	Command      string          `json:"command"`
	Destination  string          `json:"destination,omitempty"`
	Subscription string          `json:"subscription,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// ErrorBody is the body of an ERROR frame
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	// TempID names the rejected send, if the error answers one
	TempID string `json:"tempId,omitempty"`
}

// NewFrame builds a frame, marshalling payload into the body when it is not nil
func NewFrame(command, destination string, payload interface{}) (Frame, error) {
	f := Frame{Command: command, Destination: destination}
	if payload == nil {
		return f, nil
	}
	switch p := payload.(type) {
	case json.RawMessage:
		f.Body = p
	case []byte:
		f.Body = json.RawMessage(p)
	default:
		body, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s body: %w", command, err)
		}
		f.Body = body
	}
	return f, nil
}

// Encode serializes the frame
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeBody unmarshals the frame body into v
func (f Frame) DecodeBody(v interface{}) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("%w: %s frame without body", apperrors.ErrMalformedFrame, f.Command)
	}
	if err := json.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedFrame, err)
	}
	return nil
}

// DecodeFrame parses raw socket data. Anything that is not a JSON object with a known
// command wraps apperrors.ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedFrame, err)
	}
	switch f.Command {
	case CommandConnect, CommandConnected, CommandError, CommandSubscribe,
		CommandUnsubscribe, CommandSend, CommandMessage, CommandDisconnect:
		return f, nil
	case "":
		return Frame{}, fmt.Errorf("%w: missing command", apperrors.ErrMalformedFrame)
	default:
		return Frame{}, fmt.Errorf("%w: unknown command %q", apperrors.ErrMalformedFrame, f.Command)
	}
}

func errorFrame(code, message string) Frame {
	return sendErrorFrame(code, message, "")
}

func sendErrorFrame(code, message, tempID string) Frame {
	f, _ := NewFrame(CommandError, "", ErrorBody{Code: code, Message: message, TempID: tempID})
	return f
}
