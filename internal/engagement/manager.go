package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

// EventStore persists engagement events and sessions.
type EventStore interface {
	InsertEvent(ctx context.Context, e *domain.EngagementEvent) (bool, error)
	MarkClassified(ctx context.Context, id string, sentiment domain.Sentiment, category domain.EventCategory, confidence float64) error
	TransitionState(ctx context.Context, id string, from, to domain.EventState) error
	GetEvent(ctx context.Context, id string) (*domain.EngagementEvent, error)
	GetSession(ctx context.Context, postID string) (*domain.PostEngagementSession, error)
}

// PostLookup resolves the channel a reply must go out on.
type PostLookup interface {
	GetByID(ctx context.Context, id string) (*domain.ContentItem, error)
}

// Replier sends a single automated reply through the publisher.
type Replier interface {
	SendReply(ctx context.Context, channel, replyTo, body string) (string, error)
}

// Escalator routes events that need a human to the admin collaborator.
type Escalator interface {
	EscalationRequired(ctx context.Context, event *domain.EngagementEvent)
}

// Config holds engagement processing thresholds.
type Config struct {
	// SpamConfidence is the classifier confidence at or above which a
	// spam-classified event is suppressed.
	SpamConfidence float64
	// SpamBurstCount suppresses an author who posts more than this many
	// events on one post inside the burst window, independent of content.
	SpamBurstCount int
}

// IngestRequest is an inbound comment delivery.
type IngestRequest struct {
	PostID     string    `json:"post_id"`
	CommentID  string    `json:"comment_id"`
	Author     string    `json:"author"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Manager runs inbound events through classification, anti-spam, and the
// response policy. Event state transitions are monotonic; the store's CAS
// guards make every step idempotent against redelivery and retries.
type Manager struct {
	events     EventStore
	posts      PostLookup
	classifier *Classifier
	policy     *ResponsePolicy
	replier    Replier
	escalator  Escalator
	bursts     *AuthorBurst
	replies    *ReplyDedup
	cfg        Config
	clock      clock.Clock
	logger     logger.Logger
	metrics    *telemetry.Metrics
}

// NewManager creates an engagement manager.
func NewManager(
	events EventStore,
	posts PostLookup,
	classifier *Classifier,
	policy *ResponsePolicy,
	replier Replier,
	escalator Escalator,
	bursts *AuthorBurst,
	replies *ReplyDedup,
	cfg Config,
	clk clock.Clock,
	log logger.Logger,
	metrics *telemetry.Metrics,
) *Manager {
	if cfg.SpamConfidence <= 0 {
		cfg.SpamConfidence = 0.6
	}
	if cfg.SpamBurstCount <= 0 {
		cfg.SpamBurstCount = 3
	}
	return &Manager{
		events:     events,
		posts:      posts,
		classifier: classifier,
		policy:     policy,
		replier:    replier,
		escalator:  escalator,
		bursts:     bursts,
		replies:    replies,
		cfg:        cfg,
		clock:      clk,
		logger:     log,
		metrics:    metrics,
	}
}

// Ingest stores and processes one inbound comment event. Redelivered comments
// (same comment id) are dropped without reprocessing. Returns the event in
// its final state; a complaint additionally returns ErrEscalationRequired so
// callers know a human has been pulled in.
func (m *Manager) Ingest(ctx context.Context, req IngestRequest) (*domain.EngagementEvent, error) {
	if req.PostID == "" || req.CommentID == "" {
		return nil, fmt.Errorf("post_id and comment_id are required")
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = m.clock.Now()
	}

	event := &domain.EngagementEvent{
		ID:         uuid.NewString(),
		PostID:     req.PostID,
		CommentID:  req.CommentID,
		Author:     req.Author,
		Text:       req.Text,
		State:      domain.EventStateNew,
		ReceivedAt: receivedAt,
	}

	inserted, err := m.events.InsertEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("ingest event: %w", err)
	}
	if !inserted {
		m.logger.Debug("duplicate comment delivery ignored",
			logger.String("comment_id", req.CommentID))
		return nil, nil
	}

	if err := m.Process(ctx, event); err != nil {
		return event, err
	}
	return event, nil
}

// Process classifies an event and applies the response policy. Safe to retry:
// every transition is guarded in the store and the reply slot is claimed
// before sending.
func (m *Manager) Process(ctx context.Context, event *domain.EngagementEvent) error {
	c := m.classifier.Classify(event.Text)
	if err := m.events.MarkClassified(ctx, event.ID, c.Sentiment, c.Category, c.Confidence); err != nil {
		return fmt.Errorf("classify event %s: %w", event.ID, err)
	}
	event.Sentiment = c.Sentiment
	event.Category = c.Category
	event.Confidence = c.Confidence
	event.State = domain.EventStateClassified
	m.metrics.EventsClassified.WithLabelValues(string(c.Category)).Inc()

	if m.isSpam(ctx, event, c) {
		return m.suppress(ctx, event)
	}
	if c.Category == domain.CategoryComplaint {
		return m.escalate(ctx, event)
	}
	return m.respond(ctx, event)
}

// isSpam applies both spam signals: classifier confidence and author burst
// rate. The burst check runs for every event so rate-based suppression stays
// independent of what the classifier thought of the content.
func (m *Manager) isSpam(ctx context.Context, event *domain.EngagementEvent, c Classification) bool {
	if c.Category == domain.CategorySpam && c.Confidence >= m.cfg.SpamConfidence {
		m.logger.Info("suppressing spam-classified event",
			logger.String("event_id", event.ID),
			logger.Float64("confidence", c.Confidence))
		return true
	}

	count := m.bursts.Record(ctx, event.PostID, event.Author)
	if count > int64(m.cfg.SpamBurstCount) {
		m.logger.Info("suppressing burst-rate event",
			logger.String("event_id", event.ID),
			logger.String("author", event.Author),
			logger.Int64("events_in_window", count))
		return true
	}
	return false
}

func (m *Manager) suppress(ctx context.Context, event *domain.EngagementEvent) error {
	err := m.events.TransitionState(ctx, event.ID, domain.EventStateClassified, domain.EventStateSuppressed)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("suppress event %s: %w", event.ID, err)
	}
	event.State = domain.EventStateSuppressed
	m.metrics.EventsSuppressed.Inc()
	return nil
}

func (m *Manager) escalate(ctx context.Context, event *domain.EngagementEvent) error {
	err := m.events.TransitionState(ctx, event.ID, domain.EventStateClassified, domain.EventStateEscalated)
	if errors.Is(err, domain.ErrNotFound) {
		// Already escalated by a concurrent retry; the human was notified once.
		return nil
	}
	if err != nil {
		return fmt.Errorf("escalate event %s: %w", event.ID, err)
	}
	event.State = domain.EventStateEscalated
	m.metrics.Escalations.Inc()
	m.escalator.EscalationRequired(ctx, event)
	m.logger.Warn("escalated complaint to human collaborator",
		logger.String("event_id", event.ID),
		logger.String("post_id", event.PostID))
	return fmt.Errorf("event %s: %w", event.ID, domain.ErrEscalationRequired)
}

// respond issues at most one automated reply. The redis slot catches the
// crash window between send and state update; the classified -> responded
// CAS is the durable guard.
func (m *Manager) respond(ctx context.Context, event *domain.EngagementEvent) error {
	phase := domain.PhaseInitialHook
	session, err := m.events.GetSession(ctx, event.PostID)
	if err == nil {
		phase = session.Phase
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load session for post %s: %w", event.PostID, err)
	}

	body, ok := m.policy.ResponseFor(phase, event.Category, event.Author)
	if !ok {
		// Policy calls for silence; the event rests in classified.
		return nil
	}

	if !m.replies.TryAcquire(ctx, event.CommentID) {
		m.logger.Debug("reply slot already claimed",
			logger.String("comment_id", event.CommentID))
		return nil
	}

	item, err := m.posts.GetByID(ctx, event.PostID)
	if err != nil {
		m.replies.Release(ctx, event.CommentID)
		return fmt.Errorf("resolve post %s for reply: %w", event.PostID, err)
	}

	if _, err := m.replier.SendReply(ctx, item.Channel, event.CommentID, body); err != nil {
		m.replies.Release(ctx, event.CommentID)
		return fmt.Errorf("send reply to %s: %w", event.CommentID, err)
	}
	m.metrics.RepliesSent.Inc()

	err = m.events.TransitionState(ctx, event.ID, domain.EventStateClassified, domain.EventStateResponded)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark responded %s: %w", event.ID, err)
	}
	event.State = domain.EventStateResponded

	m.logger.Info("sent automated reply",
		logger.String("event_id", event.ID),
		logger.String("post_id", event.PostID),
		logger.String("phase", string(phase)),
		logger.String("category", string(event.Category)))
	return nil
}
