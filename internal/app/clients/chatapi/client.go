// Package chatapi is the REST side of the chat service: paginated history reads and
// the send mutation.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
)

const maxErrorBody = 64 * 1024

// Client calls the chat service REST endpoints with a bearer token
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "chatapi").Logger() }
}

// NewClient creates a client for the service rooted at baseURL
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchHistory returns one page of a channel's history. Page 1 holds the newest messages;
// messages inside a page are ordered oldest first.
func (c *Client) FetchHistory(ctx context.Context, channelID string, page, size int) (*models.HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var data dto.ChatMessagePage
	if err := c.do(ctx, http.MethodGet, c.messagesPath(channelID)+"?"+q.Encode(), nil, &data); err != nil {
		return nil, fmt.Errorf("fetch history of %s page %d: %w", channelID, page, err)
	}

	messages := make([]models.Message, 0, len(data.Messages))
	for i := range data.Messages {
		msg := data.Messages[i].ToModel()
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
		messages = append(messages, msg)
	}

	c.logger.Debug().
		Str("channelID", channelID).
		Int("page", data.Pagination.CurrentPage).
		Int("totalPages", data.Pagination.TotalPages).
		Int("count", len(messages)).
		Msg("History page fetched")

	return &models.HistoryPage{
		ChannelID:  channelID,
		Messages:   messages,
		PageNumber: data.Pagination.CurrentPage,
		TotalPages: data.Pagination.TotalPages,
	}, nil
}

// SendMessage posts a send request. The acknowledgement is not the authoritative
// message; that arrives as a live frame carrying the same tempId.
func (c *Client) SendMessage(ctx context.Context, req dto.SendChatMessageRequest) (*dto.SendAcknowledgement, error) {
	var ack dto.SendAcknowledgement
	if err := c.do(ctx, http.MethodPost, c.messagesPath(req.ChannelID), req, &ack); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSendFailed, err)
	}
	return &ack, nil
}

func (c *Client) messagesPath(channelID string) string {
	return c.baseURL + "/api/v1/channels/" + url.PathEscape(channelID) + "/messages"
}

// do sends the request and decodes the envelope's data into out
func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope dto.RawAPIResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return statusError(resp.StatusCode, truncate(raw))
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s %s: %w", method, resp.Status, envelope.Error)
		}
		return statusError(resp.StatusCode, truncate(raw))
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func statusError(code int, body string) error {
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", apperrors.ErrTokenInvalid, body)
	case http.StatusForbidden:
		return apperrors.NewForbiddenError(body)
	case http.StatusNotFound:
		return apperrors.NewResourceNotFoundError(body)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, body)
	}
}

func truncate(raw []byte) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return strings.TrimSpace(string(raw))
}
