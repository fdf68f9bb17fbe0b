package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

const (
	defaultCollectInterval = 2 * time.Minute
	collectLookback        = 7 * 24 * time.Hour
	collectBatchSize       = 200
)

// PostLister enumerates recently published posts to collect for.
type PostLister interface {
	ListPublishedSince(ctx context.Context, cutoff time.Time, limit int) ([]domain.ContentItem, error)
}

// Evaluator is invoked after each collection pass so experiments can
// re-check significance against fresh aggregates.
type Evaluator interface {
	EvaluateRunning(ctx context.Context)
}

// Worker runs periodic collection passes over recently published posts.
type Worker struct {
	collector *Collector
	posts     PostLister
	evaluator Evaluator
	interval  time.Duration
	clock     clock.Clock
	logger    logger.Logger
	metrics   *telemetry.Metrics

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewWorker creates a collection worker.
func NewWorker(c *Collector, posts PostLister, evaluator Evaluator, interval time.Duration, clk clock.Clock, log logger.Logger, metrics *telemetry.Metrics) *Worker {
	if interval <= 0 {
		interval = defaultCollectInterval
	}
	return &Worker{
		collector: c,
		posts:     posts,
		evaluator: evaluator,
		interval:  interval,
		clock:     clk,
		logger:    log,
		metrics:   metrics,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the collection loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("collector worker started", logger.Duration("interval", w.interval))
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("collector worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Pass(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Pass collects metrics for every recently published post, then lets the
// experiment engine evaluate. One post's failure never aborts the pass.
func (w *Worker) Pass(ctx context.Context) {
	if w.metrics != nil {
		w.metrics.CollectionPasses.Inc()
	}

	cutoff := w.clock.Now().Add(-collectLookback)
	posts, err := w.posts.ListPublishedSince(ctx, cutoff, collectBatchSize)
	if err != nil {
		w.logger.Error("failed to list posts for collection", logger.Error(err))
		return
	}

	for i := range posts {
		item := &posts[i]
		post := Post{
			ID:      item.ID,
			Channel: item.Channel,
		}
		if item.PlatformMessageID != nil {
			post.PlatformMessageID = *item.PlatformMessageID
		}
		if item.PublishedAt != nil {
			post.PublishedAt = *item.PublishedAt
		}

		if _, err := w.collector.CollectFor(ctx, post); err != nil {
			var partial *domain.PartialMetricsFailure
			if errors.As(err, &partial) {
				w.logger.Warn("collection pass degraded",
					logger.String("post_id", post.ID),
					logger.Strings("failed_sources", partial.FailedSources))
				continue
			}
			w.logger.Error("collection failed for post",
				logger.String("post_id", post.ID),
				logger.Error(err))
		}
	}

	if w.evaluator != nil {
		w.evaluator.EvaluateRunning(ctx)
	}
}
