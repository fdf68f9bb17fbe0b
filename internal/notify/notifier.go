// Package notify delivers escalations, alerts, and experiment conclusions to
// the human admin collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
)

// Notifier is the admin-facing notification surface. Deliveries are
// best-effort: a failed notification is logged, never propagated, so the
// pipelines that raise them are not coupled to the admin channel's health.
type Notifier interface {
	Alert(ctx context.Context, subject, detail string)
	EscalationRequired(ctx context.Context, event *domain.EngagementEvent)
	ExperimentConcluded(ctx context.Context, exp *domain.Experiment)
}

// message is the webhook payload.
type message struct {
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail"`
	SentAt  time.Time `json:"sent_at"`
}

// Webhook posts notifications as JSON to a configured endpoint.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     logger.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, timeout time.Duration, log logger.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Alert notifies the admin about an operational condition.
func (w *Webhook) Alert(ctx context.Context, subject, detail string) {
	w.deliver(ctx, message{Kind: "alert", Subject: subject, Detail: detail, SentAt: time.Now()})
}

// EscalationRequired notifies the admin about a complaint needing a human.
func (w *Webhook) EscalationRequired(ctx context.Context, event *domain.EngagementEvent) {
	w.deliver(ctx, message{
		Kind:    "escalation",
		Subject: fmt.Sprintf("complaint on post %s needs a human", event.PostID),
		Detail:  fmt.Sprintf("author %s wrote: %s", event.Author, event.Text),
		SentAt:  time.Now(),
	})
}

// ExperimentConcluded notifies the admin about an experiment result.
func (w *Webhook) ExperimentConcluded(ctx context.Context, exp *domain.Experiment) {
	detail := "no clear winner"
	if exp.WinnerVariantID != nil {
		detail = fmt.Sprintf("winner variant %s", *exp.WinnerVariantID)
	}
	reason := ""
	if exp.ConclusionReason != nil {
		reason = string(*exp.ConclusionReason)
	}
	w.deliver(ctx, message{
		Kind:    "experiment_concluded",
		Subject: fmt.Sprintf("experiment %q concluded (%s)", exp.Name, reason),
		Detail:  detail,
		SentAt:  time.Now(),
	})
}

func (w *Webhook) deliver(ctx context.Context, msg message) {
	body, err := json.Marshal(msg)
	if err != nil {
		w.logger.Error("failed to encode notification", logger.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("failed to build notification request", logger.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Error("failed to deliver notification",
			logger.String("kind", msg.Kind),
			logger.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Error("notification rejected",
			logger.String("kind", msg.Kind),
			logger.Int("status", resp.StatusCode))
		return
	}

	w.logger.Debug("notification delivered",
		logger.String("kind", msg.Kind),
		logger.String("subject", msg.Subject))
}

// Log writes notifications to the engine log. Used when no webhook is
// configured.
type Log struct {
	logger logger.Logger
}

// NewLog creates a log-only notifier.
func NewLog(log logger.Logger) *Log {
	return &Log{logger: log}
}

func (l *Log) Alert(ctx context.Context, subject, detail string) {
	l.logger.Warn("admin alert",
		logger.String("subject", subject),
		logger.String("detail", detail))
}

func (l *Log) EscalationRequired(ctx context.Context, event *domain.EngagementEvent) {
	l.logger.Warn("escalation required",
		logger.String("post_id", event.PostID),
		logger.String("comment_id", event.CommentID),
		logger.String("author", event.Author))
}

func (l *Log) ExperimentConcluded(ctx context.Context, exp *domain.Experiment) {
	l.logger.Info("experiment concluded",
		logger.String("experiment_id", exp.ID),
		logger.String("name", exp.Name),
		logger.Any("winner_variant_id", exp.WinnerVariantID))
}

// New returns the webhook notifier when a URL is configured, the log
// notifier otherwise.
func New(webhookURL string, timeout time.Duration, log logger.Logger) Notifier {
	if webhookURL != "" {
		return NewWebhook(webhookURL, timeout, log)
	}
	return NewLog(log)
}
