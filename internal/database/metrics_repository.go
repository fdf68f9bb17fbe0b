package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/amplify/internal/domain"
)

// MetricsRepository stores metric samples (append-only), derived aggregates,
// and tracked click events.
type MetricsRepository struct {
	db *sqlx.DB
}

// NewMetricsRepository creates a new repository.
func NewMetricsRepository(db *sqlx.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// InsertSample appends a metric sample. Samples are never updated:
// corrections are new samples.
func (r *MetricsRepository) InsertSample(ctx context.Context, s *domain.MetricSample) error {
	query := `
		INSERT INTO metric_samples (
			post_id, source, collected_at, views, reactions, shares, comments,
			reach, clicks, conversions, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		s.PostID, s.Source, s.CollectedAt, s.Views, s.Reactions, s.Shares,
		s.Comments, s.Reach, s.Clicks, s.Conversions, s.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert metric sample: %w", err)
	}
	return nil
}

// ListSamplesSince returns a post's samples collected at or after the cutoff,
// oldest first.
func (r *MetricsRepository) ListSamplesSince(ctx context.Context, postID string, since time.Time) ([]domain.MetricSample, error) {
	query := `
		SELECT id, post_id, source, collected_at, views, reactions, shares,
		       comments, reach, clicks, conversions, confidence
		FROM metric_samples
		WHERE post_id = $1 AND collected_at >= $2
		ORDER BY collected_at ASC`

	var samples []domain.MetricSample
	if err := r.db.SelectContext(ctx, &samples, query, postID, since); err != nil {
		return nil, fmt.Errorf("list samples since: %w", err)
	}
	return samples, nil
}

// LatestSamplePerSource returns the most recent sample from each source for
// a post. Aggregation works from the latest reading per source because
// platform counters are cumulative.
func (r *MetricsRepository) LatestSamplePerSource(ctx context.Context, postID string) ([]domain.MetricSample, error) {
	query := `
		SELECT DISTINCT ON (source)
		       id, post_id, source, collected_at, views, reactions, shares,
		       comments, reach, clicks, conversions, confidence
		FROM metric_samples
		WHERE post_id = $1
		ORDER BY source, collected_at DESC`

	var samples []domain.MetricSample
	if err := r.db.SelectContext(ctx, &samples, query, postID); err != nil {
		return nil, fmt.Errorf("latest sample per source: %w", err)
	}
	return samples, nil
}

// UpsertAggregate writes the single mutable aggregate row for (post, window).
func (r *MetricsRepository) UpsertAggregate(ctx context.Context, a *domain.MetricAggregate) error {
	query := `
		INSERT INTO metric_aggregates (
			post_id, "window", engagement_rate, conversion_rate,
			viral_coefficient, reach, comments, confidence, sample_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (post_id, "window") DO UPDATE SET
			engagement_rate = EXCLUDED.engagement_rate,
			conversion_rate = EXCLUDED.conversion_rate,
			viral_coefficient = EXCLUDED.viral_coefficient,
			reach = EXCLUDED.reach,
			comments = EXCLUDED.comments,
			confidence = EXCLUDED.confidence,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		a.PostID, a.Window, a.EngagementRate, a.ConversionRate,
		a.ViralCoefficient, a.Reach, a.Comments, a.Confidence,
		a.SampleCount, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

// GetAggregate returns the aggregate for (post, window), or domain.ErrNotFound.
func (r *MetricsRepository) GetAggregate(ctx context.Context, postID, window string) (*domain.MetricAggregate, error) {
	query := `
		SELECT post_id, "window", engagement_rate, conversion_rate,
		       viral_coefficient, reach, comments, confidence, sample_count, updated_at
		FROM metric_aggregates
		WHERE post_id = $1 AND "window" = $2`

	var agg domain.MetricAggregate
	err := r.db.GetContext(ctx, &agg, query, postID, window)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	return &agg, nil
}

// InsertClicks batch-inserts tracked click events.
func (r *MetricsRepository) InsertClicks(ctx context.Context, events []domain.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin click insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO click_events (post_id, target_hash, session_id, converted, clicked_at)
		VALUES ($1, $2, $3, $4, $5)`
	for i := range events {
		e := &events[i]
		if _, err := tx.ExecContext(ctx, query,
			e.PostID, e.TargetHash, e.SessionID, e.Converted, e.ClickedAt); err != nil {
			return fmt.Errorf("insert click event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit click insert: %w", err)
	}
	return nil
}

// ClickCounts holds click totals for a post.
type ClickCounts struct {
	Clicks      int64 `db:"clicks"      json:"clicks"`
	Conversions int64 `db:"conversions" json:"conversions"`
}

// CountClicks returns total clicks and conversions for a post.
func (r *MetricsRepository) CountClicks(ctx context.Context, postID string) (*ClickCounts, error) {
	query := `
		SELECT COUNT(*) as clicks,
		       COUNT(*) FILTER (WHERE converted) as conversions
		FROM click_events
		WHERE post_id = $1`

	var counts ClickCounts
	if err := r.db.GetContext(ctx, &counts, query, postID); err != nil {
		return nil, fmt.Errorf("count clicks: %w", err)
	}
	return &counts, nil
}
