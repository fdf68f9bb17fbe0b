package scheduler

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
	defaultTickInterval     = 10 * time.Second
	defaultBatchSize        = 50
	defaultStaleDispatchAge = 5 * time.Minute
	recoveryInterval        = 1 * time.Minute
	requeueDelay            = 30 * time.Second
)

// Dispatcher publishes a claimed content item.
type Dispatcher interface {
	Publish(ctx context.Context, item *domain.ContentItem) (*domain.PublishResult, error)
}

// ExperimentMarker transitions an experiment to running when its first
// variant item is dispatched.
type ExperimentMarker interface {
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
}

// SessionOpener opens an engagement session for a freshly published post.
type SessionOpener interface {
	CreateSession(ctx context.Context, s *domain.PostEngagementSession) error
}

// Alerter notifies the admin collaborator about exhausted items.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string)
}

// WorkerConfig holds dispatch loop options.
type WorkerConfig struct {
	TickInterval     time.Duration
	BatchSize        int
	StaleDispatchAge time.Duration
}

// Worker runs the dispatch loop: claim due items, publish them, write
// terminal states back. A failure on one item never aborts the tick.
type Worker struct {
	service     *Service
	dispatcher  Dispatcher
	experiments ExperimentMarker
	sessions    SessionOpener
	alerter     Alerter
	clock       clock.Clock
	logger      logger.Logger
	metrics     *telemetry.Metrics

	tickInterval     time.Duration
	batchSize        int
	staleDispatchAge time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewWorker creates a dispatch worker.
func NewWorker(
	service *Service,
	dispatcher Dispatcher,
	experiments ExperimentMarker,
	sessions SessionOpener,
	alerter Alerter,
	cfg WorkerConfig,
	clk clock.Clock,
	log logger.Logger,
	metrics *telemetry.Metrics,
) *Worker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.StaleDispatchAge <= 0 {
		cfg.StaleDispatchAge = defaultStaleDispatchAge
	}

	return &Worker{
		service:          service,
		dispatcher:       dispatcher,
		experiments:      experiments,
		sessions:         sessions,
		alerter:          alerter,
		clock:            clk,
		logger:           log,
		metrics:          metrics,
		tickInterval:     cfg.TickInterval,
		batchSize:        cfg.BatchSize,
		staleDispatchAge: cfg.StaleDispatchAge,
		stopChan:         make(chan struct{}),
	}
}

// Start begins the dispatch and recovery loops.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	// Recover items stranded in dispatching by a previous process before the
	// first tick, so a restart resumes without duplicate dispatch.
	if reset, err := w.service.store.ResetStaleDispatching(ctx, w.staleDispatchAge); err != nil {
		w.logger.Error("startup queue recovery failed", logger.Error(err))
	} else if reset > 0 {
		w.logger.Warn("recovered stranded items on startup", logger.Int64("reset", reset))
	}

	w.wg.Add(1)
	go w.run(ctx)

	w.wg.Add(1)
	go w.runRecovery(ctx)

	w.logger.Info("scheduler worker started",
		logger.Duration("tick_interval", w.tickInterval),
		logger.Int("batch_size", w.batchSize))
}

// Stop gracefully stops the worker. In-flight publishes complete.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("scheduler worker stopped")
}

// IsRunning returns whether the worker is currently running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	// Dispatch immediately on start
	w.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			w.Tick(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick claims and dispatches one batch of due items.
func (w *Worker) Tick(ctx context.Context) {
	now := w.clock.Now()
	due, err := w.service.DequeueDue(ctx, now, w.batchSize)
	if err != nil {
		w.logger.Error("failed to claim due items", logger.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	w.logger.Debug("dispatching due items", logger.Int("count", len(due)))
	for i := range due {
		w.dispatchOne(ctx, &due[i])
	}
}

func (w *Worker) dispatchOne(ctx context.Context, item *domain.ContentItem) {
	if w.metrics != nil {
		w.metrics.ItemsDispatched.Inc()
	}

	if item.ExperimentID != nil {
		if err := w.experiments.MarkRunning(ctx, *item.ExperimentID, w.clock.Now()); err != nil {
			w.logger.Warn("failed to mark experiment running",
				logger.String("experiment_id", *item.ExperimentID),
				logger.Error(err))
		}
	}

	result, err := w.dispatcher.Publish(ctx, item)
	if err != nil {
		w.handlePublishError(ctx, item, err)
		return
	}

	attempts := item.AttemptCount + 1
	if markErr := w.service.store.MarkPublished(ctx, item.ID, result.PlatformMessageID, attempts, result.PublishedAt); markErr != nil {
		// The message is on the platform; the row will be fixed by a later
		// recovery pass rather than re-sent.
		w.logger.Error("failed to mark item published",
			logger.String("item_id", item.ID),
			logger.Error(markErr))
		return
	}

	if err := w.sessions.CreateSession(ctx, &domain.PostEngagementSession{
		PostID:         item.ID,
		Phase:          domain.PhaseInitialHook,
		PublishedAt:    result.PublishedAt,
		PhaseEnteredAt: result.PublishedAt,
	}); err != nil {
		w.logger.Warn("failed to open engagement session",
			logger.String("item_id", item.ID),
			logger.Error(err))
	}
}

func (w *Worker) handlePublishError(ctx context.Context, item *domain.ContentItem, err error) {
	attempts := item.AttemptCount + 1

	switch {
	case errors.Is(err, domain.ErrRetriesExhausted) && !item.Requeued:
		// One second pass through the retry budget, then give up.
		requeueAt := w.clock.Now().Add(requeueDelay)
		if reqErr := w.service.store.Requeue(ctx, item.ID, err.Error(), requeueAt); reqErr != nil {
			w.logger.Error("failed to requeue item",
				logger.String("item_id", item.ID),
				logger.Error(reqErr))
			return
		}
		if w.metrics != nil {
			w.metrics.ItemsRequeued.Inc()
		}
		w.logger.Warn("requeued item after exhausted retries",
			logger.String("item_id", item.ID),
			logger.Time("requeue_at", requeueAt))

	case errors.Is(err, domain.ErrRetriesExhausted):
		w.markFailed(ctx, item, err, attempts)
		w.alerter.Alert(ctx, "content item failed after requeue",
			"item "+item.ID+" on channel "+item.Channel+": "+err.Error())

	case errors.Is(err, domain.ErrPermanentPublish):
		w.markFailed(ctx, item, err, attempts)
		w.alerter.Alert(ctx, "content item rejected by platform",
			"item "+item.ID+" on channel "+item.Channel+": "+err.Error())

	default:
		// Cancellation or unexpected error: leave the row dispatching, the
		// recovery loop returns it to pending once it goes stale.
		w.logger.Error("dispatch failed",
			logger.String("item_id", item.ID),
			logger.Error(err))
	}
}

func (w *Worker) markFailed(ctx context.Context, item *domain.ContentItem, err error, attempts int) {
	if markErr := w.service.store.MarkFailed(ctx, item.ID, err.Error(), attempts); markErr != nil {
		w.logger.Error("failed to mark item failed",
			logger.String("item_id", item.ID),
			logger.Error(markErr))
	}
}

// runRecovery periodically resets stale dispatching rows back to pending.
func (w *Worker) runRecovery(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reset, err := w.service.store.ResetStaleDispatching(ctx, w.staleDispatchAge)
			if err != nil {
				w.logger.Error("queue recovery failed", logger.Error(err))
			} else if reset > 0 {
				w.logger.Warn("recovered stale dispatching items", logger.Int64("reset", reset))
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
