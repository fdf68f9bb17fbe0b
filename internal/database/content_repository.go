package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/amplify/internal/domain"
)

// contentSelectList is the column list for SELECT/RETURNING on content_items
// (single source for schema changes).
const contentSelectList = `id, channel, body, media_refs, content_type, publish_at, priority,
			experiment_id, variant_id, origin_post_id, status, attempt_count,
			max_attempts, requeued, last_error, platform_message_id,
			created_at, updated_at, published_at`

// ContentRepository manages the scheduled content queue in PostgreSQL.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new repository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Insert stores a new pending content item.
func (r *ContentRepository) Insert(ctx context.Context, item *domain.ContentItem) error {
	query := `
		INSERT INTO content_items (
			id, channel, body, media_refs, content_type, publish_at, priority,
			experiment_id, variant_id, origin_post_id, status, attempt_count,
			max_attempts, requeued, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, FALSE, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.Channel, item.Body, pq.StringArray(item.MediaRefs),
		item.ContentType, item.PublishAt, item.Priority,
		item.ExperimentID, item.VariantID, item.OriginPostID,
		item.Status, item.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("insert content item: %w", err)
	}
	return nil
}

// ClaimDue atomically claims all pending items whose publish time has passed,
// marking them dispatching. FOR UPDATE SKIP LOCKED guarantees a single winner
// per item under concurrent scheduler ticks. Order: publish time ascending,
// priority descending, insertion order (seq) for ties.
func (r *ContentRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ContentItem, error) {
	query := `
		UPDATE content_items
		SET status = 'dispatching', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM content_items
			WHERE status = 'pending'
			  AND publish_at <= $1
			ORDER BY publish_at ASC, priority DESC, seq ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + contentSelectList

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	defer rows.Close()

	return scanContentItems(rows)
}

// Cancel removes a pending item. Returns domain.ErrNotFound if the item does
// not exist or has already been dispatched.
func (r *ContentRepository) Cancel(ctx context.Context, id string) error {
	query := `DELETE FROM content_items WHERE id = $1 AND status = 'pending'`
	if err := r.execExpectOneRow(ctx, query, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("cancel content item: %w", err)
	}
	return nil
}

// MarkPublished records a successful publish with the platform message id.
func (r *ContentRepository) MarkPublished(ctx context.Context, id, platformMessageID string, attempts int, publishedAt time.Time) error {
	query := `
		UPDATE content_items
		SET status = 'published',
		    platform_message_id = $2,
		    attempt_count = $3,
		    published_at = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id, platformMessageID, attempts, publishedAt); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkFailed records a terminal publish failure.
func (r *ContentRepository) MarkFailed(ctx context.Context, id, errorMsg string, attempts int) error {
	query := `
		UPDATE content_items
		SET status = 'failed',
		    last_error = $2,
		    attempt_count = $3,
		    updated_at = NOW()
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id, errorMsg, attempts); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Requeue puts a dispatching item back into the pending queue after a
// retryable publish failure. The requeued flag is set so the scheduler gives
// each item at most one second pass through the retry budget.
func (r *ContentRepository) Requeue(ctx context.Context, id, errorMsg string, publishAt time.Time) error {
	query := `
		UPDATE content_items
		SET status = 'pending',
		    requeued = TRUE,
		    last_error = $2,
		    publish_at = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'`
	if err := r.execExpectOneRow(ctx, query, id, errorMsg, publishAt); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("requeue content item: %w", err)
	}
	return nil
}

// ResetStaleDispatching returns dispatching items older than the given age to
// pending. Handles items claimed by a process that crashed mid-dispatch;
// release stays idempotent because re-claim is keyed by item id.
func (r *ContentRepository) ResetStaleDispatching(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE content_items
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'dispatching'
		  AND updated_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("reset stale dispatching: %w", err)
	}
	return result.RowsAffected()
}

// BoostPriority raises the priority of pending items for a post and any
// pending items derived from it (cross-posts, experiment siblings).
func (r *ContentRepository) BoostPriority(ctx context.Context, postID string, delta int) (int64, error) {
	query := `
		UPDATE content_items
		SET priority = priority + $2, updated_at = NOW()
		WHERE status = 'pending'
		  AND (id = $1 OR origin_post_id = $1)`

	result, err := r.db.ExecContext(ctx, query, postID, delta)
	if err != nil {
		return 0, fmt.Errorf("boost priority: %w", err)
	}
	return result.RowsAffected()
}

// GetByID retrieves a single content item.
func (r *ContentRepository) GetByID(ctx context.Context, id string) (*domain.ContentItem, error) {
	query := `SELECT ` + contentSelectList + ` FROM content_items WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	item, err := scanContentItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return item, nil
}

// ListPublishedSince returns items published after the cutoff, newest first.
// Used by the collection and viral monitoring passes.
func (r *ContentRepository) ListPublishedSince(ctx context.Context, cutoff time.Time, limit int) ([]domain.ContentItem, error) {
	query := `SELECT ` + contentSelectList + `
		FROM content_items
		WHERE status = 'published' AND published_at >= $1
		ORDER BY published_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list published since: %w", err)
	}
	defer rows.Close()

	return scanContentItems(rows)
}

// ListByExperiment returns all content items belonging to an experiment.
func (r *ContentRepository) ListByExperiment(ctx context.Context, experimentID string) ([]domain.ContentItem, error) {
	query := `SELECT ` + contentSelectList + `
		FROM content_items
		WHERE experiment_id = $1
		ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list by experiment: %w", err)
	}
	defer rows.Close()

	return scanContentItems(rows)
}

// CancelPendingByExperiment removes an experiment's still-pending items so a
// cancelled experiment stops generating dispatches immediately. In-flight
// dispatches are left to complete.
func (r *ContentRepository) CancelPendingByExperiment(ctx context.Context, experimentID string) (int64, error) {
	query := `DELETE FROM content_items WHERE experiment_id = $1 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, experimentID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending by experiment: %w", err)
	}
	return result.RowsAffected()
}

// QueueStats holds queue statistics for monitoring.
type QueueStats struct {
	Pending            int64   `json:"pending"`
	Dispatching        int64   `json:"dispatching"`
	Published          int64   `json:"published"`
	Failed             int64   `json:"failed"`
	AvgDispatchLagSecs float64 `json:"avg_dispatch_lag_seconds"`
}

// GetStats returns queue statistics.
func (r *ContentRepository) GetStats(ctx context.Context) (*QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'dispatching') as dispatching,
			COUNT(*) FILTER (WHERE status = 'published') as published,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COALESCE(AVG(EXTRACT(EPOCH FROM (published_at - publish_at)))
				FILTER (WHERE status = 'published' AND published_at > NOW() - INTERVAL '1 hour'), 0) as lag
		FROM content_items`

	var stats QueueStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.Dispatching,
		&stats.Published,
		&stats.Failed,
		&stats.AvgDispatchLagSecs,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// AppendAttempt records a publish attempt in the audit log.
func (r *ContentRepository) AppendAttempt(ctx context.Context, attempt *domain.PublishAttempt) error {
	query := `
		INSERT INTO publish_attempts (item_id, channel, attempt, outcome, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ItemID, attempt.Channel, attempt.Attempt,
		attempt.Outcome, attempt.Error, attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("append publish attempt: %w", err)
	}
	return nil
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row
// was affected.
func (r *ContentRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContentItem(row rowScanner) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var mediaRefs pq.StringArray

	err := row.Scan(
		&item.ID, &item.Channel, &item.Body, &mediaRefs, &item.ContentType,
		&item.PublishAt, &item.Priority, &item.ExperimentID, &item.VariantID,
		&item.OriginPostID, &item.Status, &item.AttemptCount, &item.MaxAttempts,
		&item.Requeued, &item.LastError, &item.PlatformMessageID,
		&item.CreatedAt, &item.UpdatedAt, &item.PublishedAt,
	)
	if err != nil {
		return nil, err
	}
	item.MediaRefs = mediaRefs
	return &item, nil
}

func scanContentItems(rows *sql.Rows) ([]domain.ContentItem, error) {
	items := make([]domain.ContentItem, 0)
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
