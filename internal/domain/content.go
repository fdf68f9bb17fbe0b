// Package domain contains the core domain models for the engagement engine.
package domain

import "time"

// ContentStatus represents the lifecycle state of a scheduled content item.
type ContentStatus string

const (
	ContentStatusPending     ContentStatus = "pending"
	ContentStatusDispatching ContentStatus = "dispatching"
	ContentStatusPublished   ContentStatus = "published"
	ContentStatusFailed      ContentStatus = "failed"
)

// ContentType tags the format of a content item's payload.
type ContentType string

const (
	ContentTypeText      ContentType = "text"
	ContentTypeImage     ContentType = "image"
	ContentTypeVideo     ContentType = "video"
	ContentTypeLink      ContentType = "link"
	ContentTypeCrossPost ContentType = "cross_post"
)

// SupportedContentTypes lists the content types the scheduler accepts.
var SupportedContentTypes = []ContentType{
	ContentTypeText,
	ContentTypeImage,
	ContentTypeVideo,
	ContentTypeLink,
	ContentTypeCrossPost,
}

// IsSupportedContentType reports whether t is an accepted content type.
func IsSupportedContentType(t ContentType) bool {
	for _, s := range SupportedContentTypes {
		if t == s {
			return true
		}
	}
	return false
}

// ContentItem is a unit of content queued for publication.
// The scheduler owns it until dispatch; the publisher writes the terminal state.
type ContentItem struct {
	ID                string        `db:"id"                  json:"id"`
	Channel           string        `db:"channel"             json:"channel"`
	Body              string        `db:"body"                json:"body"`
	MediaRefs         []string      `db:"media_refs"          json:"media_refs,omitempty"`
	ContentType       ContentType   `db:"content_type"        json:"content_type"`
	PublishAt         time.Time     `db:"publish_at"          json:"publish_at"`
	Priority          int           `db:"priority"            json:"priority"`
	ExperimentID      *string       `db:"experiment_id"       json:"experiment_id,omitempty"`
	VariantID         *string       `db:"variant_id"          json:"variant_id,omitempty"`
	OriginPostID      *string       `db:"origin_post_id"      json:"origin_post_id,omitempty"`
	Status            ContentStatus `db:"status"              json:"status"`
	AttemptCount      int           `db:"attempt_count"       json:"attempt_count"`
	MaxAttempts       int           `db:"max_attempts"        json:"max_attempts"`
	Requeued          bool          `db:"requeued"            json:"requeued"`
	LastError         *string       `db:"last_error"          json:"last_error,omitempty"`
	PlatformMessageID *string       `db:"platform_message_id" json:"platform_message_id,omitempty"`
	CreatedAt         time.Time     `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"          json:"updated_at"`
	PublishedAt       *time.Time    `db:"published_at"        json:"published_at,omitempty"`
}

// IsTerminal reports whether the item has reached a final state.
func (c *ContentItem) IsTerminal() bool {
	return c.Status == ContentStatusPublished || c.Status == ContentStatusFailed
}

// IsCrossPost reports whether the item amplifies an earlier post.
func (c *ContentItem) IsCrossPost() bool {
	return c.ContentType == ContentTypeCrossPost && c.OriginPostID != nil
}

// PublishResult records the outcome of a publish request.
// It is immutable once created.
type PublishResult struct {
	ItemID            string    `json:"item_id"`
	PlatformMessageID string    `json:"platform_message_id,omitempty"`
	PublishedAt       time.Time `json:"published_at"`
	Err               error     `json:"-"`
}

// Succeeded reports whether the publish completed.
func (r PublishResult) Succeeded() bool {
	return r.Err == nil
}

// PublishAttempt is an audit log entry for a single send attempt,
// recorded for every attempt whether it succeeded or not.
type PublishAttempt struct {
	ID          int64     `db:"id"           json:"id"`
	ItemID      string    `db:"item_id"      json:"item_id"`
	Channel     string    `db:"channel"      json:"channel"`
	Attempt     int       `db:"attempt"      json:"attempt"`
	Outcome     string    `db:"outcome"      json:"outcome"` // published, rate_limited, permanent_error, transient_error
	Error       *string   `db:"error"        json:"error,omitempty"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
}

// Audit outcome values for PublishAttempt.Outcome.
const (
	AttemptOutcomePublished      = "published"
	AttemptOutcomeRateLimited    = "rate_limited"
	AttemptOutcomePermanentError = "permanent_error"
	AttemptOutcomeTransientError = "transient_error"
)
