// Package scheduler owns the content queue: it validates and enqueues items,
// releases due items to the publisher with at-most-once semantics, and keeps
// the queue consistent across restarts.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/database"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
)

// Priority bounds accepted by Enqueue.
const (
	MinPriority = 0
	MaxPriority = 100
)

// ContentStore is the persistence surface the scheduler needs.
type ContentStore interface {
	Insert(ctx context.Context, item *domain.ContentItem) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ContentItem, error)
	Cancel(ctx context.Context, id string) error
	MarkPublished(ctx context.Context, id, platformMessageID string, attempts int, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id, errorMsg string, attempts int) error
	Requeue(ctx context.Context, id, errorMsg string, publishAt time.Time) error
	ResetStaleDispatching(ctx context.Context, olderThan time.Duration) (int64, error)
	BoostPriority(ctx context.Context, postID string, delta int) (int64, error)
	GetByID(ctx context.Context, id string) (*domain.ContentItem, error)
	GetStats(ctx context.Context) (*database.QueueStats, error)
}

// EnqueueRequest describes a content item to schedule.
type EnqueueRequest struct {
	Channel      string
	Body         string
	MediaRefs    []string
	ContentType  domain.ContentType
	PublishAt    time.Time
	Priority     int
	ExperimentID *string
	VariantID    *string
	OriginPostID *string
	MaxAttempts  int
}

// Service validates and manages scheduled content.
type Service struct {
	store       ContentStore
	clock       clock.Clock
	graceWindow time.Duration
	maxAttempts int
	logger      logger.Logger
}

// NewService creates a scheduler service.
func NewService(store ContentStore, clk clock.Clock, graceWindow time.Duration, maxAttempts int, log logger.Logger) *Service {
	if graceWindow <= 0 {
		graceWindow = 2 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		store:       store,
		clock:       clk,
		graceWindow: graceWindow,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// Enqueue validates the request and stores a pending content item.
// A zero PublishAt means "publish now". Returns domain.ErrInvalidSchedule
// (wrapped with the reason) for bad input.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.ContentItem, error) {
	now := s.clock.Now()

	if req.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", domain.ErrInvalidSchedule)
	}
	if req.Body == "" {
		return nil, fmt.Errorf("%w: body is required", domain.ErrInvalidSchedule)
	}
	if !domain.IsSupportedContentType(req.ContentType) {
		return nil, fmt.Errorf("%w: unsupported content type %q", domain.ErrInvalidSchedule, req.ContentType)
	}
	if req.Priority < MinPriority || req.Priority > MaxPriority {
		return nil, fmt.Errorf("%w: priority %d outside [%d, %d]", domain.ErrInvalidSchedule, req.Priority, MinPriority, MaxPriority)
	}

	publishAt := req.PublishAt
	if publishAt.IsZero() {
		publishAt = now
	}
	if publishAt.Before(now.Add(-s.graceWindow)) {
		return nil, fmt.Errorf("%w: publish time %s is in the past", domain.ErrInvalidSchedule, publishAt.Format(time.RFC3339))
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	item := &domain.ContentItem{
		ID:           uuid.NewString(),
		Channel:      req.Channel,
		Body:         req.Body,
		MediaRefs:    req.MediaRefs,
		ContentType:  req.ContentType,
		PublishAt:    publishAt,
		Priority:     req.Priority,
		ExperimentID: req.ExperimentID,
		VariantID:    req.VariantID,
		OriginPostID: req.OriginPostID,
		Status:       domain.ContentStatusPending,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	s.logger.Info("enqueued content item",
		logger.String("item_id", item.ID),
		logger.String("channel", item.Channel),
		logger.Time("publish_at", item.PublishAt),
		logger.Int("priority", item.Priority))
	return item, nil
}

// DequeueDue claims all items due at the given instant, ordered by (publish
// time asc, priority desc, insertion order). Claiming marks them dispatching,
// so each item is released to at most one caller.
func (s *Service) DequeueDue(ctx context.Context, now time.Time, limit int) ([]domain.ContentItem, error) {
	return s.store.ClaimDue(ctx, now, limit)
}

// Cancel removes a pending item. Items already dispatched (or unknown) fail
// with domain.ErrNotFound.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.store.Cancel(ctx, id); err != nil {
		return err
	}
	s.logger.Info("cancelled content item", logger.String("item_id", id))
	return nil
}

// Boost raises the priority of a post's remaining pending items and returns
// how many were touched.
func (s *Service) Boost(ctx context.Context, postID string, delta int) (int64, error) {
	boosted, err := s.store.BoostPriority(ctx, postID, delta)
	if err != nil {
		return 0, err
	}
	if boosted > 0 {
		s.logger.Info("boosted scheduled items",
			logger.String("post_id", postID),
			logger.Int("delta", delta),
			logger.Int64("items", boosted))
	}
	return boosted, nil
}

// Get returns a single content item.
func (s *Service) Get(ctx context.Context, id string) (*domain.ContentItem, error) {
	return s.store.GetByID(ctx, id)
}

// Stats returns queue statistics for the dashboard.
func (s *Service) Stats(ctx context.Context) (*database.QueueStats, error) {
	return s.store.GetStats(ctx)
}
