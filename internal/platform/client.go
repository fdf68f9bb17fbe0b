// Package platform implements the messaging platform publish API client.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
)

// Payload is the content sent to the platform in one message.
type Payload struct {
	Body      string   `json:"body"`
	MediaRefs []string `json:"media_refs,omitempty"`
	Format    string   `json:"format,omitempty"`
	ReplyTo   string   `json:"reply_to,omitempty"`
}

// Sender publishes a payload to a channel and returns the platform-assigned
// message id. Implementations map platform failures to the domain error
// taxonomy: *domain.RateLimitedError for rate rejections,
// domain.ErrPermanentPublish for unrecoverable ones, anything else is
// transient.
type Sender interface {
	Send(ctx context.Context, channel string, payload Payload) (string, error)
}

// Client is an HTTP Sender against the platform's publish API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  logger.Logger
}

// NewClient creates a platform API client.
func NewClient(baseURL, token string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

type sendRequest struct {
	Channel string  `json:"channel"`
	Payload Payload `json:"payload"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send publishes the payload to the channel.
func (c *Client) Send(ctx context.Context, channel string, payload Payload) (string, error) {
	body, err := json.Marshal(sendRequest{Channel: channel, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("%w: marshal send request: %v", domain.ErrPermanentPublish, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors and timeouts are transient
		return "", fmt.Errorf("send to platform: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read platform response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var parsed sendResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("parse platform response: %w", err)
		}
		if parsed.MessageID == "" {
			return "", fmt.Errorf("platform returned no message id")
		}
		return parsed.MessageID, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &domain.RateLimitedError{
			Channel:    channel,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Warn("platform rejected message",
			logger.String("channel", channel),
			logger.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: platform returned %d: %s",
			domain.ErrPermanentPublish, resp.StatusCode, truncate(respBody, 200))

	default:
		// 5xx: platform-side trouble, worth retrying
		return "", fmt.Errorf("platform returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
