package abtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/scheduler"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

// MinVariants is the smallest number of variants an experiment may carry.
const MinVariants = 2

// ExperimentStore persists experiments and their variants.
type ExperimentStore interface {
	Create(ctx context.Context, exp *domain.Experiment) error
	GetByID(ctx context.Context, id string) (*domain.Experiment, error)
	ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]string, error)
	Conclude(ctx context.Context, id string, winnerVariantID *string, reason domain.ConclusionReason, concludedAt time.Time) error
	UpdateVariantStats(ctx context.Context, variantID string, exposures, engaged, conversions int64) error
}

// ContentStore exposes the queue operations the engine needs to seed and
// cancel experiment posts.
type ContentStore interface {
	ListByExperiment(ctx context.Context, experimentID string) ([]domain.ContentItem, error)
	CancelPendingByExperiment(ctx context.Context, experimentID string) (int64, error)
}

// AggregateReader reads the latest computed metrics for a post.
type AggregateReader interface {
	GetAggregate(ctx context.Context, postID, window string) (*domain.MetricAggregate, error)
}

// Enqueuer schedules a variant's content item for publication.
type Enqueuer interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*domain.ContentItem, error)
}

// Notifier receives experiment conclusion notices.
type Notifier interface {
	ExperimentConcluded(ctx context.Context, exp *domain.Experiment)
}

// VariantSpec describes one variant in a create request.
type VariantSpec struct {
	Channel     string             `json:"channel"`
	Body        string             `json:"body"`
	ContentType domain.ContentType `json:"content_type"`
	PublishAt   time.Time          `json:"publish_at"`
}

// CreateRequest describes a new experiment.
type CreateRequest struct {
	Name            string                `json:"name"`
	Type            domain.ExperimentType `json:"type"`
	MinSampleSize   int64                 `json:"min_sample_size"`
	Duration        time.Duration         `json:"duration"`
	ConfidenceLevel float64               `json:"confidence_level"`
	Variants        []VariantSpec         `json:"variants"`
}

// Config holds engine tuning.
type Config struct {
	// DefaultConfidenceLevel applies when a create request leaves the
	// confidence level unset.
	DefaultConfidenceLevel float64
	// ForceWinnerOnTimeout picks the best point-estimate variant when the
	// duration elapses without significance instead of recording no clear
	// winner.
	ForceWinnerOnTimeout bool
}

// Engine creates and concludes A/B experiments. Variants are published as
// ordinary queue items tagged with experiment and variant ids; their
// performance is read back from the metric aggregates each evaluation pass.
type Engine struct {
	experiments ExperimentStore
	content     ContentStore
	aggregates  AggregateReader
	enqueuer    Enqueuer
	notifier    Notifier
	clock       clock.Clock
	cfg         Config
	logger      logger.Logger
	metrics     *telemetry.Metrics
}

// NewEngine creates an experiment engine.
func NewEngine(
	experiments ExperimentStore,
	content ContentStore,
	aggregates AggregateReader,
	enqueuer Enqueuer,
	notifier Notifier,
	clk clock.Clock,
	cfg Config,
	log logger.Logger,
	metrics *telemetry.Metrics,
) *Engine {
	if cfg.DefaultConfidenceLevel <= 0 || cfg.DefaultConfidenceLevel >= 1 {
		cfg.DefaultConfidenceLevel = 0.95
	}
	return &Engine{
		experiments: experiments,
		content:     content,
		aggregates:  aggregates,
		enqueuer:    enqueuer,
		notifier:    notifier,
		clock:       clk,
		cfg:         cfg,
		logger:      log,
		metrics:     metrics,
	}
}

// CreateExperiment validates the request, persists the experiment in draft
// state and enqueues one content item per variant. The experiment moves to
// running when its first variant is dispatched.
func (e *Engine) CreateExperiment(ctx context.Context, req CreateRequest) (*domain.Experiment, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidSchedule)
	}
	if !domain.IsValidExperimentType(req.Type) {
		return nil, fmt.Errorf("%w: unknown experiment type %q", domain.ErrInvalidSchedule, req.Type)
	}
	if len(req.Variants) < MinVariants {
		return nil, fmt.Errorf("%w: experiment needs at least %d variants, got %d",
			domain.ErrInvalidSchedule, MinVariants, len(req.Variants))
	}
	if req.MinSampleSize <= 0 {
		return nil, fmt.Errorf("%w: min_sample_size must be positive", domain.ErrInvalidSchedule)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", domain.ErrInvalidSchedule)
	}

	confidence := req.ConfidenceLevel
	if confidence == 0 {
		confidence = e.cfg.DefaultConfidenceLevel
	}
	if confidence <= 0 || confidence >= 1 {
		return nil, fmt.Errorf("%w: confidence_level must be in (0,1)", domain.ErrInvalidSchedule)
	}

	now := e.clock.Now()
	exp := &domain.Experiment{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Type:            req.Type,
		Status:          domain.ExperimentStatusDraft,
		MinSampleSize:   req.MinSampleSize,
		Duration:        req.Duration,
		ConfidenceLevel: confidence,
		CreatedAt:       now,
	}
	for i, spec := range req.Variants {
		exp.Variants = append(exp.Variants, domain.Variant{
			ID:           uuid.NewString(),
			ExperimentID: exp.ID,
			Ordinal:      i,
			Channel:      spec.Channel,
			Body:         spec.Body,
			ContentType:  spec.ContentType,
			PublishAt:    spec.PublishAt,
		})
	}

	if err := e.experiments.Create(ctx, exp); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	for i := range exp.Variants {
		v := &exp.Variants[i]
		_, err := e.enqueuer.Enqueue(ctx, scheduler.EnqueueRequest{
			Channel:      v.Channel,
			Body:         v.Body,
			ContentType:  v.ContentType,
			PublishAt:    v.PublishAt,
			ExperimentID: &exp.ID,
			VariantID:    &v.ID,
		})
		if err != nil {
			// Stop seeding and cancel what was queued so a half-created
			// experiment never runs lopsided.
			if _, cancelErr := e.content.CancelPendingByExperiment(ctx, exp.ID); cancelErr != nil {
				e.logger.Error("failed to cancel partially seeded experiment",
					logger.String("experiment_id", exp.ID),
					logger.Error(cancelErr))
			}
			concludedAt := e.clock.Now()
			if concludeErr := e.experiments.Conclude(ctx, exp.ID, nil, domain.ConclusionCancelled, concludedAt); concludeErr != nil {
				e.logger.Error("failed to conclude partially seeded experiment",
					logger.String("experiment_id", exp.ID),
					logger.Error(concludeErr))
			}
			return nil, fmt.Errorf("enqueue variant %d: %w", v.Ordinal, err)
		}
	}

	e.logger.Info("created experiment",
		logger.String("experiment_id", exp.ID),
		logger.String("name", exp.Name),
		logger.String("type", string(exp.Type)),
		logger.Int("variants", len(exp.Variants)))

	return exp, nil
}

// Get returns an experiment with its variants.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	return e.experiments.GetByID(ctx, id)
}

// Cancel concludes an experiment without a winner and removes its pending
// queue items. Returns domain.ErrAlreadyConcluded if it already finished.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if err := e.experiments.Conclude(ctx, id, nil, domain.ConclusionCancelled, e.clock.Now()); err != nil {
		return err
	}
	removed, err := e.content.CancelPendingByExperiment(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel experiment items: %w", err)
	}
	e.metrics.ExperimentsConcluded.WithLabelValues(string(domain.ConclusionCancelled)).Inc()
	e.logger.Info("cancelled experiment",
		logger.String("experiment_id", id),
		logger.Int64("items_removed", removed))
	return nil
}

// EvaluateRunning evaluates every running experiment. Called after each
// metrics collection pass; per-experiment failures are logged and do not stop
// the pass.
func (e *Engine) EvaluateRunning(ctx context.Context) {
	ids, err := e.experiments.ListByStatus(ctx, domain.ExperimentStatusRunning)
	if err != nil {
		e.logger.Error("failed to list running experiments", logger.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.Evaluate(ctx, id); err != nil && !errors.Is(err, domain.ErrInsufficientSamples) {
			e.logger.Error("experiment evaluation failed",
				logger.String("experiment_id", id),
				logger.Error(err))
		}
	}
}

// Evaluate refreshes variant statistics from the metric aggregates and
// concludes the experiment when warranted. Returns (true, nil) once the
// experiment is concluded; an experiment that is not decidable yet returns
// domain.ErrInsufficientSamples, a deferral rather than a failure. Concluding
// is idempotent: a concurrent conclusion is treated as success.
func (e *Engine) Evaluate(ctx context.Context, id string) (bool, error) {
	e.metrics.Evaluations.Inc()

	exp, err := e.experiments.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load experiment: %w", err)
	}
	if exp.IsConcluded() {
		return true, nil
	}
	if exp.Status == domain.ExperimentStatusDraft {
		return false, fmt.Errorf("experiment %s not yet running: %w", exp.ID, domain.ErrInsufficientSamples)
	}

	if err := e.refreshVariantStats(ctx, exp); err != nil {
		return false, err
	}

	now := e.clock.Now()
	winnerID, reason, decided := e.decide(exp, now)
	if !decided {
		return false, fmt.Errorf("experiment %s: %w", exp.ID, domain.ErrInsufficientSamples)
	}

	if err := e.experiments.Conclude(ctx, exp.ID, winnerID, reason, now); err != nil {
		if errors.Is(err, domain.ErrAlreadyConcluded) {
			return true, nil
		}
		return false, fmt.Errorf("conclude experiment: %w", err)
	}

	exp.Status = domain.ExperimentStatusConcluded
	exp.WinnerVariantID = winnerID
	exp.ConclusionReason = &reason
	exp.ConcludedAt = &now

	e.metrics.ExperimentsConcluded.WithLabelValues(string(reason)).Inc()
	e.logger.Info("concluded experiment",
		logger.String("experiment_id", exp.ID),
		logger.String("reason", string(reason)),
		logger.Any("winner_variant_id", winnerID))

	if e.notifier != nil {
		e.notifier.ExperimentConcluded(ctx, exp)
	}
	return true, nil
}

// refreshVariantStats folds each variant's published items' aggregates into
// exposure/engagement/conversion counts and persists them.
func (e *Engine) refreshVariantStats(ctx context.Context, exp *domain.Experiment) error {
	items, err := e.content.ListByExperiment(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("list experiment items: %w", err)
	}

	byVariant := make(map[string][]domain.ContentItem)
	for _, item := range items {
		if item.VariantID == nil || item.Status != domain.ContentStatusPublished {
			continue
		}
		byVariant[*item.VariantID] = append(byVariant[*item.VariantID], item)
	}

	for i := range exp.Variants {
		v := &exp.Variants[i]

		var exposures, engaged, conversions int64
		for _, item := range byVariant[v.ID] {
			agg, err := e.aggregates.GetAggregate(ctx, item.ID, domain.AggregateWindowLifetime)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return fmt.Errorf("read aggregate for %s: %w", item.ID, err)
			}
			exposures += agg.Reach
			engaged += int64(math.Round(agg.EngagementRate * float64(agg.Reach)))
			conversions += int64(math.Round(agg.ConversionRate * float64(agg.Reach)))
		}

		if exposures == v.Exposures && engaged == v.Engaged && conversions == v.Conversions {
			continue
		}
		v.Exposures, v.Engaged, v.Conversions = exposures, engaged, conversions
		if err := e.experiments.UpdateVariantStats(ctx, v.ID, exposures, engaged, conversions); err != nil {
			return fmt.Errorf("update variant stats: %w", err)
		}
	}
	return nil
}

// decide applies the conclusion policy. Significance requires every variant
// to clear the minimum sample size and every pairwise comparison to be
// distinguishable at the configured confidence level. The duration box is the
// fallback: elapsed with a significant leader concludes on significance,
// otherwise either the point-estimate pick or no clear winner depending on
// configuration.
func (e *Engine) decide(exp *domain.Experiment, now time.Time) (*string, domain.ConclusionReason, bool) {
	zCrit := criticalZ(exp.ConfidenceLevel)

	allSampled := true
	for i := range exp.Variants {
		if exp.Variants[i].Exposures < exp.MinSampleSize {
			allSampled = false
			break
		}
	}

	if allSampled && e.allPairsDistinguishable(exp, zCrit) {
		best := e.bestVariant(exp)
		return &best.ID, domain.ConclusionSignificance, true
	}

	if !exp.DurationElapsed(now) {
		return nil, "", false
	}

	best := e.bestVariant(exp)
	if allSampled && e.beatsAllOthers(exp, best, zCrit) {
		return &best.ID, domain.ConclusionSignificance, true
	}
	if e.cfg.ForceWinnerOnTimeout {
		return &best.ID, domain.ConclusionPointEstimate, true
	}
	return nil, domain.ConclusionNoClearWinner, true
}

func (e *Engine) allPairsDistinguishable(exp *domain.Experiment, zCrit float64) bool {
	for i := range exp.Variants {
		for j := i + 1; j < len(exp.Variants); j++ {
			a, b := &exp.Variants[i], &exp.Variants[j]
			if !significantlyDifferent(e.successes(exp, a), a.Exposures, e.successes(exp, b), b.Exposures, zCrit) {
				return false
			}
		}
	}
	return true
}

func (e *Engine) beatsAllOthers(exp *domain.Experiment, best *domain.Variant, zCrit float64) bool {
	for i := range exp.Variants {
		v := &exp.Variants[i]
		if v.ID == best.ID {
			continue
		}
		if e.rate(exp, best) <= e.rate(exp, v) {
			return false
		}
		if !significantlyDifferent(e.successes(exp, best), best.Exposures, e.successes(exp, v), v.Exposures, zCrit) {
			return false
		}
	}
	return true
}

// bestVariant returns the highest point-estimate variant, ties broken by the
// lowest ordinal so repeated evaluations pick deterministically.
func (e *Engine) bestVariant(exp *domain.Experiment) *domain.Variant {
	best := &exp.Variants[0]
	for i := 1; i < len(exp.Variants); i++ {
		v := &exp.Variants[i]
		if e.rate(exp, v) > e.rate(exp, best) {
			best = v
		}
	}
	return best
}

// successes returns the count the experiment type optimizes for: conversions
// for timing experiments, engagement otherwise.
func (e *Engine) successes(exp *domain.Experiment, v *domain.Variant) int64 {
	if exp.Type == domain.ExperimentTypeTiming {
		return v.Conversions
	}
	return v.Engaged
}

func (e *Engine) rate(exp *domain.Experiment, v *domain.Variant) float64 {
	if v.Exposures == 0 {
		return 0
	}
	return float64(e.successes(exp, v)) / float64(v.Exposures)
}
