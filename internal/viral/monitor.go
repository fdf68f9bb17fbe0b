// Package viral watches live metric movement for posts that are taking off
// and amplifies them: a cross-post referencing the original plus a priority
// boost for the post's remaining scheduled items.
package viral

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/scheduler"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

// SampleStore reads a post's raw metric samples.
type SampleStore interface {
	ListSamplesSince(ctx context.Context, postID string, since time.Time) ([]domain.MetricSample, error)
}

// CommentCounter counts non-suppressed inbound events on a post.
type CommentCounter interface {
	CountEventsSince(ctx context.Context, postID string, since time.Time) (int64, error)
}

// PostSource lists recently published posts and resolves originals.
type PostSource interface {
	ListPublishedSince(ctx context.Context, cutoff time.Time, limit int) ([]domain.ContentItem, error)
	GetByID(ctx context.Context, id string) (*domain.ContentItem, error)
}

// Amplifier enqueues the cross-post and raises remaining priorities.
type Amplifier interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*domain.ContentItem, error)
	Boost(ctx context.Context, postID string, delta int) (int64, error)
}

// Thresholds are the trigger conditions. All of them must hold
// simultaneously over the trailing window.
type Thresholds struct {
	// ReachGrowthRate is the minimum fractional reach growth, e.g. 0.5 for
	// +50% within the window.
	ReachGrowthRate float64
	// EngagementSpike is the minimum multiple of the window-start engagement
	// rate, e.g. 2.0 for a doubling.
	EngagementSpike float64
	// CommentsPerMinute is the minimum inbound comment velocity.
	CommentsPerMinute float64
}

// Config holds monitor tuning.
type Config struct {
	Interval       time.Duration
	TrailingWindow time.Duration
	Cooldown       time.Duration
	Thresholds     Thresholds
	// Lookback bounds which published posts are watched at all.
	Lookback  time.Duration
	BatchSize int
	// BoostDelta is added to the priority of the post's remaining pending
	// items on amplification.
	BoostDelta int
}

// Monitor periodically evaluates published posts against the thresholds.
// Triggers are debounced per post through a redis cooldown key, so one
// sustained spike amplifies once per cooldown interval.
type Monitor struct {
	samples  SampleStore
	comments CommentCounter
	posts    PostSource
	amp      Amplifier
	redis    *redis.Client
	cfg      Config
	clock    clock.Clock
	logger   logger.Logger
	metrics  *telemetry.Metrics

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewMonitor creates a viral monitor.
func NewMonitor(
	samples SampleStore,
	comments CommentCounter,
	posts PostSource,
	amp Amplifier,
	redisClient *redis.Client,
	cfg Config,
	clk clock.Clock,
	log logger.Logger,
	metrics *telemetry.Metrics,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.TrailingWindow <= 0 {
		cfg.TrailingWindow = 30 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 6 * time.Hour
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 48 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.BoostDelta <= 0 {
		cfg.BoostDelta = 25
	}
	return &Monitor{
		samples:  samples,
		comments: comments,
		posts:    posts,
		amp:      amp,
		redis:    redisClient,
		cfg:      cfg,
		clock:    clk,
		logger:   log,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}
}

// Start launches the evaluation loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.run(ctx)
	m.logger.Info("viral monitor started",
		logger.Duration("interval", m.cfg.Interval),
		logger.Duration("trailing_window", m.cfg.TrailingWindow))
}

// Stop halts the loop and waits for the in-flight pass.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info("viral monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Pass(ctx)
		}
	}
}

// Pass evaluates every recently published post once.
func (m *Monitor) Pass(ctx context.Context) {
	now := m.clock.Now()
	posts, err := m.posts.ListPublishedSince(ctx, now.Add(-m.cfg.Lookback), m.cfg.BatchSize)
	if err != nil {
		m.logger.Error("failed to list posts for viral pass", logger.Error(err))
		return
	}

	for i := range posts {
		if ctx.Err() != nil {
			return
		}
		if err := m.EvaluatePost(ctx, &posts[i], now); err != nil {
			m.logger.Error("viral evaluation failed",
				logger.String("post_id", posts[i].ID),
				logger.Error(err))
		}
	}
}

// EvaluatePost checks one post's trailing-window movement and amplifies on a
// full threshold crossing.
func (m *Monitor) EvaluatePost(ctx context.Context, post *domain.ContentItem, now time.Time) error {
	windowStart := now.Add(-m.cfg.TrailingWindow)

	samples, err := m.samples.ListSamplesSince(ctx, post.ID, windowStart)
	if err != nil {
		return fmt.Errorf("list samples: %w", err)
	}
	commentCount, err := m.comments.CountEventsSince(ctx, post.ID, windowStart)
	if err != nil {
		return fmt.Errorf("count comments: %w", err)
	}

	sig := computeSignals(samples, commentCount, m.cfg.TrailingWindow)
	if !sig.crossesAll(m.cfg.Thresholds) {
		return nil
	}

	if !m.tryClaim(ctx, post.ID) {
		m.metrics.ViralDebounced.Inc()
		m.logger.Debug("viral trigger debounced",
			logger.String("post_id", post.ID))
		return nil
	}

	return m.amplify(ctx, post, sig, now)
}

// tryClaim takes the post's cooldown slot. Redis errors deny the claim so an
// unavailable cache can never cause an amplification storm.
func (m *Monitor) tryClaim(ctx context.Context, postID string) bool {
	key := fmt.Sprintf("amplify:viral:%s", postID)
	claimed, err := m.redis.SetNX(ctx, key, "1", m.cfg.Cooldown).Result()
	if err != nil {
		m.logger.Error("redis error claiming viral cooldown",
			logger.String("redis_key", key),
			logger.Error(err))
		return false
	}
	return claimed
}

func (m *Monitor) amplify(ctx context.Context, post *domain.ContentItem, sig signals, now time.Time) error {
	crossPost := scheduler.EnqueueRequest{
		Channel:      post.Channel,
		Body:         fmt.Sprintf("This is taking off. In case you missed it:\n\n%s", post.Body),
		MediaRefs:    post.MediaRefs,
		ContentType:  domain.ContentTypeCrossPost,
		PublishAt:    now,
		Priority:     scheduler.MaxPriority,
		OriginPostID: &post.ID,
	}
	item, err := m.amp.Enqueue(ctx, crossPost)
	if err != nil {
		return fmt.Errorf("enqueue cross-post: %w", err)
	}

	boosted, err := m.amp.Boost(ctx, post.ID, m.cfg.BoostDelta)
	if err != nil {
		return fmt.Errorf("boost related items: %w", err)
	}

	m.metrics.ViralTriggers.Inc()
	m.logger.Info("amplified viral post",
		logger.String("post_id", post.ID),
		logger.String("cross_post_id", item.ID),
		logger.Int64("items_boosted", boosted),
		logger.Float64("reach_growth", sig.reachGrowth),
		logger.Float64("engagement_spike", sig.engagementSpike),
		logger.Float64("comments_per_minute", sig.commentsPerMinute))
	return nil
}
