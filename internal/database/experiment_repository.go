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

// ExperimentRepository manages experiments and their variants.
type ExperimentRepository struct {
	db *sqlx.DB
}

// NewExperimentRepository creates a new repository.
func NewExperimentRepository(db *sqlx.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// Create stores an experiment and its variants in one transaction.
func (r *ExperimentRepository) Create(ctx context.Context, exp *domain.Experiment) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create experiment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	expQuery := `
		INSERT INTO experiments (
			id, name, type, status, min_sample_size, duration_seconds,
			confidence_level, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, expQuery,
		exp.ID, exp.Name, exp.Type, exp.Status, exp.MinSampleSize,
		int64(exp.Duration.Seconds()), exp.ConfidenceLevel, exp.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}

	varQuery := `
		INSERT INTO variants (
			id, experiment_id, ordinal, channel, body, content_type,
			publish_at, is_winner, exposures, engaged, conversions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, 0, 0, 0)`
	for i := range exp.Variants {
		v := &exp.Variants[i]
		if _, err := tx.ExecContext(ctx, varQuery,
			v.ID, v.ExperimentID, v.Ordinal, v.Channel, v.Body,
			v.ContentType, v.PublishAt,
		); err != nil {
			return fmt.Errorf("insert variant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create experiment: %w", err)
	}
	return nil
}

// GetByID loads an experiment with its variants ordered by ordinal.
func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	exp, err := r.scanExperiment(ctx, `SELECT * FROM experiments WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	varQuery := `
		SELECT id, experiment_id, ordinal, channel, body, content_type,
		       publish_at, is_winner, exposures, engaged, conversions
		FROM variants
		WHERE experiment_id = $1
		ORDER BY ordinal ASC`
	if err := r.db.SelectContext(ctx, &exp.Variants, varQuery, id); err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	return exp, nil
}

// ListByStatus returns experiment ids in the given status, oldest first.
func (r *ExperimentRepository) ListByStatus(ctx context.Context, status domain.ExperimentStatus) ([]string, error) {
	var ids []string
	query := `SELECT id FROM experiments WHERE status = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &ids, query, status); err != nil {
		return nil, fmt.Errorf("list experiments by status: %w", err)
	}
	return ids, nil
}

// MarkRunning transitions a draft experiment to running. It is a no-op when
// the experiment already left draft.
func (r *ExperimentRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE experiments
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'draft'`
	if _, err := r.db.ExecContext(ctx, query, id, startedAt); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// Conclude transitions a running experiment to concluded, recording the
// reason and (optionally) flagging the winner variant, all in one
// transaction. The status guard makes conclusion happen at most once:
// a second call returns domain.ErrAlreadyConcluded.
func (r *ExperimentRepository) Conclude(ctx context.Context, id string, winnerVariantID *string, reason domain.ConclusionReason, concludedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conclude: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE experiments
		SET status = 'concluded',
		    winner_variant_id = $2,
		    conclusion_reason = $3,
		    concluded_at = $4
		WHERE id = $1 AND status IN ('draft', 'running')`
	result, err := tx.ExecContext(ctx, query, id, winnerVariantID, reason, concludedAt)
	if err != nil {
		return fmt.Errorf("conclude experiment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrAlreadyConcluded
	}

	if winnerVariantID != nil {
		winnerQuery := `UPDATE variants SET is_winner = TRUE WHERE id = $1 AND experiment_id = $2`
		if _, err := tx.ExecContext(ctx, winnerQuery, *winnerVariantID, id); err != nil {
			return fmt.Errorf("flag winner variant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conclude: %w", err)
	}
	return nil
}

// UpdateVariantStats refreshes a variant's running aggregate statistics.
func (r *ExperimentRepository) UpdateVariantStats(ctx context.Context, variantID string, exposures, engaged, conversions int64) error {
	query := `
		UPDATE variants
		SET exposures = $2, engaged = $3, conversions = $4
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, variantID, exposures, engaged, conversions); err != nil {
		return fmt.Errorf("update variant stats: %w", err)
	}
	return nil
}

func (r *ExperimentRepository) scanExperiment(ctx context.Context, query string, args ...any) (*domain.Experiment, error) {
	var row struct {
		ID               string     `db:"id"`
		Name             string     `db:"name"`
		Type             string     `db:"type"`
		Status           string     `db:"status"`
		MinSampleSize    int64      `db:"min_sample_size"`
		DurationSeconds  int64      `db:"duration_seconds"`
		ConfidenceLevel  float64    `db:"confidence_level"`
		WinnerVariantID  *string    `db:"winner_variant_id"`
		ConclusionReason *string    `db:"conclusion_reason"`
		CreatedAt        time.Time  `db:"created_at"`
		StartedAt        *time.Time `db:"started_at"`
		ConcludedAt      *time.Time `db:"concluded_at"`
	}

	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}

	exp := &domain.Experiment{
		ID:              row.ID,
		Name:            row.Name,
		Type:            domain.ExperimentType(row.Type),
		Status:          domain.ExperimentStatus(row.Status),
		MinSampleSize:   row.MinSampleSize,
		Duration:        time.Duration(row.DurationSeconds) * time.Second,
		ConfidenceLevel: row.ConfidenceLevel,
		WinnerVariantID: row.WinnerVariantID,
		CreatedAt:       row.CreatedAt,
		StartedAt:       row.StartedAt,
		ConcludedAt:     row.ConcludedAt,
	}
	if row.ConclusionReason != nil {
		reason := domain.ConclusionReason(*row.ConclusionReason)
		exp.ConclusionReason = &reason
	}
	return exp, nil
}
