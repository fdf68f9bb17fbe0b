package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/platform"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

// scriptedSender returns the queued errors in order, then succeeds.
type scriptedSender struct {
	errs  []error
	calls int
}

func (s *scriptedSender) Send(_ context.Context, _ string, _ platform.Payload) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "msg-123", nil
}

type memoryAudit struct {
	attempts []domain.PublishAttempt
}

func (a *memoryAudit) AppendAttempt(_ context.Context, attempt *domain.PublishAttempt) error {
	a.attempts = append(a.attempts, *attempt)
	return nil
}

func identityJitter(d time.Duration) time.Duration { return d }

func newTestPublisher(sender platform.Sender, audit AuditStore, cfg Config) *Publisher {
	p := New(sender, audit, cfg, clock.NewReal(), logger.NewNopLogger(), telemetry.NewMetrics())
	p.jitter = identityJitter
	return p
}

func testItem() *domain.ContentItem {
	return &domain.ContentItem{
		ID:          "item-1",
		Channel:     "mastodon",
		Body:        "hello fediverse",
		ContentType: domain.ContentTypeText,
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	p := newTestPublisher(&scriptedSender{}, &memoryAudit{}, Config{
		BackoffBase: 2 * time.Second,
		BackoffCap:  8 * time.Second,
	})

	transient := errors.New("connection reset")

	assert.Equal(t, 2*time.Second, p.backoffDelay(1, transient))
	assert.Equal(t, 4*time.Second, p.backoffDelay(2, transient))
	assert.Equal(t, 8*time.Second, p.backoffDelay(3, transient))
	assert.Equal(t, 8*time.Second, p.backoffDelay(4, transient), "ceiling stays capped")
	assert.Equal(t, 8*time.Second, p.backoffDelay(5, transient))
}

func TestBackoffDelayHonorsRetryAfterFloor(t *testing.T) {
	p := newTestPublisher(&scriptedSender{}, &memoryAudit{}, Config{
		BackoffBase: 2 * time.Second,
		BackoffCap:  8 * time.Second,
	})

	rateLimited := &domain.RateLimitedError{Channel: "mastodon", RetryAfter: 30 * time.Second}
	assert.Equal(t, 30*time.Second, p.backoffDelay(1, rateLimited))

	// A Retry-After below the computed delay does not shorten it
	short := &domain.RateLimitedError{Channel: "mastodon", RetryAfter: time.Second}
	assert.Equal(t, 4*time.Second, p.backoffDelay(2, short))
}

func TestPublishRetriesRateLimitedThenSucceeds(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		&domain.RateLimitedError{Channel: "mastodon"},
		&domain.RateLimitedError{Channel: "mastodon"},
	}}
	audit := &memoryAudit{}
	p := newTestPublisher(sender, audit, Config{
		MaxAttempts:    5,
		BackoffBase:    time.Millisecond,
		BackoffCap:     4 * time.Millisecond,
		SendsPerMinute: 600,
	})

	result, err := p.Publish(context.Background(), testItem())
	require.NoError(t, err)
	assert.Equal(t, "msg-123", result.PlatformMessageID)
	assert.Equal(t, "item-1", result.ItemID)
	assert.Equal(t, 3, sender.calls)

	require.Len(t, audit.attempts, 3)
	assert.Equal(t, domain.AttemptOutcomeRateLimited, audit.attempts[0].Outcome)
	assert.Equal(t, domain.AttemptOutcomeRateLimited, audit.attempts[1].Outcome)
	assert.Equal(t, domain.AttemptOutcomePublished, audit.attempts[2].Outcome)
	for i, a := range audit.attempts {
		assert.Equal(t, i+1, a.Attempt)
		assert.Equal(t, "item-1", a.ItemID)
	}
}

func TestPublishPermanentErrorDoesNotRetry(t *testing.T) {
	sender := &scriptedSender{errs: []error{domain.ErrPermanentPublish}}
	audit := &memoryAudit{}
	p := newTestPublisher(sender, audit, Config{
		MaxAttempts:    5,
		BackoffBase:    time.Millisecond,
		SendsPerMinute: 600,
	})

	_, err := p.Publish(context.Background(), testItem())
	assert.ErrorIs(t, err, domain.ErrPermanentPublish)
	assert.Equal(t, 1, sender.calls)

	require.Len(t, audit.attempts, 1)
	assert.Equal(t, domain.AttemptOutcomePermanentError, audit.attempts[0].Outcome)
}

func TestPublishExhaustsRetryBudget(t *testing.T) {
	transient := errors.New("upstream timeout")
	sender := &scriptedSender{errs: []error{transient, transient, transient}}
	audit := &memoryAudit{}
	p := newTestPublisher(sender, audit, Config{
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     2 * time.Millisecond,
		SendsPerMinute: 600,
	})

	_, err := p.Publish(context.Background(), testItem())
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Equal(t, 3, sender.calls)

	require.Len(t, audit.attempts, 3)
	for _, a := range audit.attempts {
		assert.Equal(t, domain.AttemptOutcomeTransientError, a.Outcome)
	}
}

func TestPublishCancelledDuringBackoff(t *testing.T) {
	sender := &scriptedSender{errs: []error{errors.New("upstream timeout")}}
	p := newTestPublisher(sender, &memoryAudit{}, Config{
		MaxAttempts:    5,
		BackoffBase:    time.Hour,
		BackoffCap:     time.Hour,
		SendsPerMinute: 600,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Publish(ctx, testItem())
		done <- err
	}()

	// Let the first attempt fail and park in the backoff wait, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("publish did not return after cancellation")
	}
	assert.Equal(t, 1, sender.calls)
}

func TestSendReplyUsesChannelLimiter(t *testing.T) {
	sender := &scriptedSender{}
	p := newTestPublisher(sender, &memoryAudit{}, Config{SendsPerMinute: 600})

	id, err := p.SendReply(context.Background(), "mastodon", "comment-9", "thanks for asking")
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, 1, sender.calls)
}
