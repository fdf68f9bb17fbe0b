// Package producer wraps the external content producer collaborator.
// The engine treats content generation as opaque: it asks for a payload on a
// topic in a style and gets text plus media references back.
package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Payload is a produced piece of content.
type Payload struct {
	Body      string   `json:"body"`
	MediaRefs []string `json:"media_refs,omitempty"`
	Format    string   `json:"format,omitempty"`
}

// Producer supplies content payloads on demand.
type Producer interface {
	Produce(ctx context.Context, topic, style string) (*Payload, error)
}

// Client is an HTTP Producer.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a producer client.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type produceRequest struct {
	Topic string `json:"topic"`
	Style string `json:"style"`
}

// Produce requests a content payload from the collaborator.
func (c *Client) Produce(ctx context.Context, topic, style string) (*Payload, error) {
	body, err := json.Marshal(produceRequest{Topic: topic, Style: style})
	if err != nil {
		return nil, fmt.Errorf("marshal produce request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build produce request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call producer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("producer returned %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read producer response: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("parse producer response: %w", err)
	}
	return &payload, nil
}
