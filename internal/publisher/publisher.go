// Package publisher dispatches content items to the platform, honoring
// per-channel rate ceilings and retrying transient failures with exponential
// backoff and full jitter.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/platform"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

// AuditStore records every publish attempt for observability.
type AuditStore interface {
	AppendAttempt(ctx context.Context, attempt *domain.PublishAttempt) error
}

// Config holds publisher retry and rate limit settings.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	SendsPerMinute int
}

// Publisher sends content items through the platform API.
type Publisher struct {
	sender   platform.Sender
	audit    AuditStore
	limiters *channelLimiters
	cfg      Config
	clock    clock.Clock
	logger   logger.Logger
	metrics  *telemetry.Metrics

	// jitter maps a computed backoff ceiling to the actual delay.
	// Defaults to full jitter; tests replace it with identity.
	jitter func(time.Duration) time.Duration
}

// New creates a Publisher.
func New(sender platform.Sender, audit AuditStore, cfg Config, clk clock.Clock, log logger.Logger, metrics *telemetry.Metrics) *Publisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 2 * time.Minute
	}
	if cfg.SendsPerMinute <= 0 {
		cfg.SendsPerMinute = 20
	}

	return &Publisher{
		sender:   sender,
		audit:    audit,
		limiters: newChannelLimiters(cfg.SendsPerMinute),
		cfg:      cfg,
		clock:    clk,
		logger:   log,
		metrics:  metrics,
		jitter:   fullJitter,
	}
}

// Publish sends the item's content to its channel. On success the returned
// PublishResult carries the platform message id. Rate-limit rejections and
// transient platform errors are retried with exponential backoff up to the
// attempt budget; exhaustion surfaces domain.ErrRetriesExhausted so the
// scheduler can decide whether to re-enqueue. Permanent errors are returned
// immediately without retry.
func (p *Publisher) Publish(ctx context.Context, item *domain.ContentItem) (*domain.PublishResult, error) {
	start := p.clock.Now()
	payload := platform.Payload{
		Body:      item.Body,
		MediaRefs: item.MediaRefs,
		Format:    string(item.ContentType),
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.limiters.Wait(ctx, item.Channel); err != nil {
			return nil, fmt.Errorf("wait for publish permit: %w", err)
		}
		if p.metrics != nil {
			p.metrics.RateLimitWaits.Inc()
		}

		messageID, err := p.sendOnce(ctx, item.Channel, payload)
		p.recordAttempt(ctx, item, attempt, err)

		if err == nil {
			publishedAt := p.clock.Now()
			if p.metrics != nil {
				p.metrics.ObservePublish(domain.AttemptOutcomePublished, publishedAt.Sub(start))
			}
			p.logger.Info("published content item",
				logger.String("item_id", item.ID),
				logger.String("channel", item.Channel),
				logger.String("message_id", messageID),
				logger.Int("attempt", attempt))
			return &domain.PublishResult{
				ItemID:            item.ID,
				PlatformMessageID: messageID,
				PublishedAt:       publishedAt,
			}, nil
		}

		if errors.Is(err, domain.ErrPermanentPublish) {
			if p.metrics != nil {
				p.metrics.ObservePublish(domain.AttemptOutcomePermanentError, p.clock.Now().Sub(start))
			}
			p.logger.Error("permanent publish failure",
				logger.String("item_id", item.ID),
				logger.String("channel", item.Channel),
				logger.Error(err))
			return nil, err
		}

		lastErr = err

		// Rate-limited and transient errors back off before the next attempt
		if attempt < p.cfg.MaxAttempts {
			delay := p.backoffDelay(attempt, err)
			p.logger.Warn("publish attempt failed, backing off",
				logger.String("item_id", item.ID),
				logger.String("channel", item.Channel),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err))

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-p.clock.After(delay):
			}
		}
	}

	if p.metrics != nil {
		p.metrics.ObservePublish(domain.AttemptOutcomeTransientError, p.clock.Now().Sub(start))
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, p.cfg.MaxAttempts, lastErr)
}

func (p *Publisher) sendOnce(ctx context.Context, channel string, payload platform.Payload) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()
	return p.sender.Send(attemptCtx, channel, payload)
}

// backoffDelay computes the delay before the next attempt: base doubled per
// attempt, capped, with full jitter. A platform-provided Retry-After acts as
// a floor.
func (p *Publisher) backoffDelay(attempt int, err error) time.Duration {
	ceiling := p.cfg.BackoffBase << (attempt - 1)
	if ceiling > p.cfg.BackoffCap || ceiling <= 0 {
		ceiling = p.cfg.BackoffCap
	}

	delay := p.jitter(ceiling)

	var rl *domain.RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > delay {
		delay = rl.RetryAfter
	}
	return delay
}

func (p *Publisher) recordAttempt(ctx context.Context, item *domain.ContentItem, attempt int, sendErr error) {
	outcome := domain.AttemptOutcomePublished
	var errMsg *string
	if sendErr != nil {
		msg := sendErr.Error()
		errMsg = &msg
		switch {
		case domain.IsRateLimited(sendErr):
			outcome = domain.AttemptOutcomeRateLimited
		case errors.Is(sendErr, domain.ErrPermanentPublish):
			outcome = domain.AttemptOutcomePermanentError
		default:
			outcome = domain.AttemptOutcomeTransientError
		}
	}

	record := &domain.PublishAttempt{
		ItemID:      item.ID,
		Channel:     item.Channel,
		Attempt:     attempt,
		Outcome:     outcome,
		Error:       errMsg,
		AttemptedAt: p.clock.Now(),
	}
	if err := p.audit.AppendAttempt(ctx, record); err != nil {
		// The audit trail must never block publishing
		p.logger.Warn("failed to append publish attempt",
			logger.String("item_id", item.ID),
			logger.Error(err))
	}
}

// SendReply publishes an automated reply to an inbound comment, subject to
// the same channel rate limiter but without the retry loop: replies are
// best-effort.
func (p *Publisher) SendReply(ctx context.Context, channel, replyTo, body string) (string, error) {
	if err := p.limiters.Wait(ctx, channel); err != nil {
		return "", fmt.Errorf("wait for reply permit: %w", err)
	}
	return p.sendOnce(ctx, channel, platform.Payload{Body: body, ReplyTo: replyTo})
}

func fullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
