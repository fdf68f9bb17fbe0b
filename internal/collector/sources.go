// Package collector polls engagement signal sources for published posts,
// merges them into confidence-weighted aggregates, and feeds the metrics
// store.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonesrussell/amplify/internal/database"
	"github.com/jonesrussell/amplify/internal/domain"
)

// Default source confidence weights. Platform-native readings weigh highest,
// third-party analytics lower, click tracking lowest (but it contributes
// conversions independently).
const (
	PlatformWeight  = 1.0
	AnalyticsWeight = 0.6
	ClicksWeight    = 0.3
)

// Post identifies a published item to collect metrics for.
type Post struct {
	ID                string
	PlatformMessageID string
	Channel           string
	PublishedAt       time.Time
}

// Reading is one source's raw counters for a post.
type Reading struct {
	Views       int64   `json:"views"`
	Reactions   int64   `json:"reactions"`
	Shares      int64   `json:"shares"`
	Comments    int64   `json:"comments"`
	Reach       int64   `json:"reach"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Confidence  float64 `json:"confidence"`
}

// Source fetches raw counters for a post. A failing source must not block
// the others; the collector enforces a bounded timeout per fetch.
type Source interface {
	Kind() domain.MetricSourceKind
	Weight() float64
	Fetch(ctx context.Context, post Post) (*Reading, error)
}

// PlatformSource reads native statistics from the messaging platform.
type PlatformSource struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewPlatformSource creates the platform metrics source.
func NewPlatformSource(baseURL, token string, timeout time.Duration) *PlatformSource {
	return &PlatformSource{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Kind identifies the source.
func (s *PlatformSource) Kind() domain.MetricSourceKind { return domain.MetricSourcePlatform }

// Weight returns the source's configured confidence weight.
func (s *PlatformSource) Weight() float64 { return PlatformWeight }

// Fetch reads the platform's native counters for the post's message.
func (s *PlatformSource) Fetch(ctx context.Context, post Post) (*Reading, error) {
	url := fmt.Sprintf("%s/v1/messages/%s/stats", s.baseURL, post.PlatformMessageID)
	reading, err := fetchJSON(ctx, s.client, url, s.token)
	if err != nil {
		return nil, fmt.Errorf("platform stats: %w", err)
	}
	if reading.Confidence == 0 {
		reading.Confidence = PlatformWeight
	}
	return reading, nil
}

// AnalyticsSource reads counters from an external analytics collaborator.
type AnalyticsSource struct {
	baseURL string
	client  *http.Client
}

// NewAnalyticsSource creates the analytics metrics source.
func NewAnalyticsSource(baseURL string, timeout time.Duration) *AnalyticsSource {
	return &AnalyticsSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Kind identifies the source.
func (s *AnalyticsSource) Kind() domain.MetricSourceKind { return domain.MetricSourceAnalytics }

// Weight returns the source's configured confidence weight.
func (s *AnalyticsSource) Weight() float64 { return AnalyticsWeight }

// Fetch reads third-party analytics counters for the post.
func (s *AnalyticsSource) Fetch(ctx context.Context, post Post) (*Reading, error) {
	url := fmt.Sprintf("%s/v1/posts/%s/metrics", s.baseURL, post.ID)
	reading, err := fetchJSON(ctx, s.client, url, "")
	if err != nil {
		return nil, fmt.Errorf("analytics metrics: %w", err)
	}
	if reading.Confidence == 0 {
		reading.Confidence = AnalyticsWeight
	}
	return reading, nil
}

// ClickSource reads the engine's own tracked outbound clicks. It carries no
// reach of its own but contributes clicks and conversions independently.
type ClickSource struct {
	store *database.MetricsRepository
}

// NewClickSource creates the click-tracking metrics source.
func NewClickSource(store *database.MetricsRepository) *ClickSource {
	return &ClickSource{store: store}
}

// Kind identifies the source.
func (s *ClickSource) Kind() domain.MetricSourceKind { return domain.MetricSourceClicks }

// Weight returns the source's configured confidence weight.
func (s *ClickSource) Weight() float64 { return ClicksWeight }

// Fetch counts tracked clicks and conversions for the post.
func (s *ClickSource) Fetch(ctx context.Context, post Post) (*Reading, error) {
	counts, err := s.store.CountClicks(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("click counts: %w", err)
	}
	return &Reading{
		Clicks:      counts.Clicks,
		Conversions: counts.Conversions,
		Confidence:  ClicksWeight,
	}, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url, token string) (*Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var reading Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &reading, nil
}
