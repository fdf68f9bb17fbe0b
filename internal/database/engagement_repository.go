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

// EngagementRepository stores inbound engagement events and per-post
// engagement sessions.
type EngagementRepository struct {
	db *sqlx.DB
}

// NewEngagementRepository creates a new repository.
func NewEngagementRepository(db *sqlx.DB) *EngagementRepository {
	return &EngagementRepository{db: db}
}

// InsertEvent stores a new engagement event in state "new". Duplicate
// deliveries of the same platform comment are ignored, which makes ingest
// idempotent against webhook retries.
func (r *EngagementRepository) InsertEvent(ctx context.Context, e *domain.EngagementEvent) (bool, error) {
	query := `
		INSERT INTO engagement_events (
			id, post_id, comment_id, author, text, state, received_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (comment_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		e.ID, e.PostID, e.CommentID, e.Author, e.Text, e.State, e.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert engagement event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get affected rows: %w", err)
	}
	return rows > 0, nil
}

// MarkClassified records the classification result. The state guard keeps
// the transition monotonic: an already-advanced event is left untouched.
func (r *EngagementRepository) MarkClassified(ctx context.Context, id string, sentiment domain.Sentiment, category domain.EventCategory, confidence float64) error {
	query := `
		UPDATE engagement_events
		SET sentiment = $2, category = $3, confidence = $4,
		    state = 'classified', updated_at = NOW()
		WHERE id = $1 AND state = 'new'`
	if _, err := r.db.ExecContext(ctx, query, id, sentiment, category, confidence); err != nil {
		return fmt.Errorf("mark classified: %w", err)
	}
	return nil
}

// TransitionState moves an event from one state to a terminal state.
// Returns domain.ErrNotFound when the event is not in the expected state,
// which callers use to deduplicate: at most one automated reply per event.
func (r *EngagementRepository) TransitionState(ctx context.Context, id string, from, to domain.EventState) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("transition %s -> %s is not a forward move", from, to)
	}

	query := `
		UPDATE engagement_events
		SET state = $3, updated_at = NOW()
		WHERE id = $1 AND state = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("transition state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetEvent loads a single engagement event.
func (r *EngagementRepository) GetEvent(ctx context.Context, id string) (*domain.EngagementEvent, error) {
	query := `
		SELECT id, post_id, comment_id, author, text,
		       COALESCE(sentiment, '') as sentiment,
		       COALESCE(category, '') as category,
		       COALESCE(confidence, 0) as confidence,
		       state, received_at, updated_at
		FROM engagement_events
		WHERE id = $1`

	var e domain.EngagementEvent
	err := r.db.GetContext(ctx, &e, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get engagement event: %w", err)
	}
	return &e, nil
}

// CountEventsSince returns the number of non-suppressed events on a post
// received at or after the cutoff. Suppressed events do not count toward any
// engagement signal.
func (r *EngagementRepository) CountEventsSince(ctx context.Context, postID string, since time.Time) (int64, error) {
	var count int64
	query := `
		SELECT COUNT(*)
		FROM engagement_events
		WHERE post_id = $1 AND received_at >= $2 AND state != 'suppressed'`
	if err := r.db.GetContext(ctx, &count, query, postID, since); err != nil {
		return 0, fmt.Errorf("count events since: %w", err)
	}
	return count, nil
}

// CreateSession opens an engagement session for a freshly published post.
// Re-publishing the same post id is a no-op.
func (r *EngagementRepository) CreateSession(ctx context.Context, s *domain.PostEngagementSession) error {
	query := `
		INSERT INTO engagement_sessions (post_id, phase, published_at, phase_entered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (post_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query,
		s.PostID, s.Phase, s.PublishedAt, s.PhaseEnteredAt); err != nil {
		return fmt.Errorf("create engagement session: %w", err)
	}
	return nil
}

// GetSession loads a post's engagement session.
func (r *EngagementRepository) GetSession(ctx context.Context, postID string) (*domain.PostEngagementSession, error) {
	query := `
		SELECT post_id, phase, published_at, phase_entered_at
		FROM engagement_sessions
		WHERE post_id = $1`

	var s domain.PostEngagementSession
	err := r.db.GetContext(ctx, &s, query, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get engagement session: %w", err)
	}
	return &s, nil
}

// AdvancePhase moves a session to a later phase. The phase guard makes the
// move strictly forward even under concurrent advancement.
func (r *EngagementRepository) AdvancePhase(ctx context.Context, postID string, from, to domain.SessionPhase, enteredAt time.Time) error {
	if domain.PhaseIndex(to) <= domain.PhaseIndex(from) {
		return fmt.Errorf("phase %s -> %s is not a forward move", from, to)
	}

	query := `
		UPDATE engagement_sessions
		SET phase = $3, phase_entered_at = $4
		WHERE post_id = $1 AND phase = $2`
	result, err := r.db.ExecContext(ctx, query, postID, from, to, enteredAt)
	if err != nil {
		return fmt.Errorf("advance phase: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpenSessions returns sessions that have not yet reached the final
// retention phase.
func (r *EngagementRepository) ListOpenSessions(ctx context.Context, limit int) ([]domain.PostEngagementSession, error) {
	query := `
		SELECT post_id, phase, published_at, phase_entered_at
		FROM engagement_sessions
		WHERE phase != 'retention'
		ORDER BY published_at ASC
		LIMIT $1`

	var sessions []domain.PostEngagementSession
	if err := r.db.SelectContext(ctx, &sessions, query, limit); err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return sessions, nil
}
