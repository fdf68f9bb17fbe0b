package collector

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

// MetricsStore is the persistence surface the collector needs.
type MetricsStore interface {
	InsertSample(ctx context.Context, s *domain.MetricSample) error
	LatestSamplePerSource(ctx context.Context, postID string) ([]domain.MetricSample, error)
	ListSamplesSince(ctx context.Context, postID string, since time.Time) ([]domain.MetricSample, error)
	UpsertAggregate(ctx context.Context, a *domain.MetricAggregate) error
}

// Collector polls metric sources and recomputes per-post aggregates.
type Collector struct {
	sources       []Source
	store         MetricsStore
	sourceTimeout time.Duration
	clock         clock.Clock
	logger        logger.Logger
	metrics       *telemetry.Metrics

	// Aggregation for a post serializes against itself; different posts
	// aggregate fully in parallel.
	locksMu   sync.Mutex
	postLocks map[string]*sync.Mutex
}

// New creates a Collector over the given sources.
func New(sources []Source, store MetricsStore, sourceTimeout time.Duration, clk clock.Clock, log logger.Logger, metrics *telemetry.Metrics) *Collector {
	if sourceTimeout <= 0 {
		sourceTimeout = 5 * time.Second
	}
	return &Collector{
		sources:       sources,
		store:         store,
		sourceTimeout: sourceTimeout,
		clock:         clk,
		logger:        log,
		metrics:       metrics,
		postLocks:     make(map[string]*sync.Mutex),
	}
}

// CollectFor queries every source for the post, appends the readings as
// samples, and recomputes the post's aggregate. A failing source never
// aborts collection for the others: when some sources fail but the aggregate
// was still computed, the aggregate is returned together with a
// *domain.PartialMetricsFailure describing the gap.
func (c *Collector) CollectFor(ctx context.Context, post Post) (*domain.MetricAggregate, error) {
	now := c.clock.Now()
	var failed []string

	for _, source := range c.sources {
		reading, err := c.fetchOne(ctx, source, post)
		if err != nil {
			failed = append(failed, string(source.Kind()))
			if c.metrics != nil {
				c.metrics.SourceFailures.WithLabelValues(string(source.Kind())).Inc()
			}
			c.logger.Warn("metric source failed",
				logger.String("post_id", post.ID),
				logger.String("source", string(source.Kind())),
				logger.Error(err))
			continue
		}

		sample := &domain.MetricSample{
			PostID:      post.ID,
			Source:      source.Kind(),
			CollectedAt: now,
			Views:       reading.Views,
			Reactions:   reading.Reactions,
			Shares:      reading.Shares,
			Comments:    reading.Comments,
			Reach:       reading.Reach,
			Clicks:      reading.Clicks,
			Conversions: reading.Conversions,
			Confidence:  reading.Confidence,
		}
		if err := c.store.InsertSample(ctx, sample); err != nil {
			c.logger.Error("failed to store metric sample",
				logger.String("post_id", post.ID),
				logger.String("source", string(source.Kind())),
				logger.Error(err))
		}
	}

	agg, err := c.Recompute(ctx, post)
	if err != nil {
		return nil, err
	}

	if len(failed) > 0 {
		return agg, &domain.PartialMetricsFailure{PostID: post.ID, FailedSources: failed}
	}
	return agg, nil
}

// Recompute rebuilds the post's aggregate from stored samples, serialized
// per post.
func (c *Collector) Recompute(ctx context.Context, post Post) (*domain.MetricAggregate, error) {
	lock := c.lockFor(post.ID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := c.store.LatestSamplePerSource(ctx, post.ID)
	if err != nil {
		return nil, err
	}

	agg := computeAggregate(post.ID, latest, c.totalWeightMass(), c.clock.Now())

	history, err := c.store.ListSamplesSince(ctx, post.ID, post.PublishedAt)
	if err != nil {
		c.logger.Warn("failed to load sample history for viral coefficient",
			logger.String("post_id", post.ID),
			logger.Error(err))
	} else {
		agg.ViralCoefficient = viralCoefficient(history)
	}

	if err := c.store.UpsertAggregate(ctx, agg); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.AggregateUpdates.Inc()
	}
	return agg, nil
}

func (c *Collector) fetchOne(ctx context.Context, source Source, post Post) (*Reading, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.sourceTimeout)
	defer cancel()
	return source.Fetch(fetchCtx, post)
}

func (c *Collector) totalWeightMass() float64 {
	var mass float64
	for _, s := range c.sources {
		mass += s.Weight()
	}
	return mass
}

func (c *Collector) lockFor(postID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	lock, ok := c.postLocks[postID]
	if !ok {
		lock = &sync.Mutex{}
		c.postLocks[postID] = lock
	}
	return lock
}
