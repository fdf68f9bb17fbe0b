package domain

import "time"

// ExperimentType identifies what an experiment varies across its variants.
type ExperimentType string

const (
	ExperimentTypeContent ExperimentType = "content"
	ExperimentTypeTiming  ExperimentType = "timing"
	ExperimentTypeFormat  ExperimentType = "format"
)

// IsValidExperimentType reports whether t is a known experiment type.
func IsValidExperimentType(t ExperimentType) bool {
	switch t {
	case ExperimentTypeContent, ExperimentTypeTiming, ExperimentTypeFormat:
		return true
	}
	return false
}

// ExperimentStatus represents the experiment lifecycle.
// Transitions: draft -> running -> concluded (terminal).
type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusConcluded ExperimentStatus = "concluded"
)

// ConclusionReason records why an experiment concluded. A duration-elapsed
// conclusion without statistical significance must record NoClearWinner (or
// PointEstimate when the engine is configured to force a pick) so readers can
// tell a real winner from noise.
type ConclusionReason string

const (
	ConclusionSignificance  ConclusionReason = "significance"
	ConclusionPointEstimate ConclusionReason = "duration_point_estimate"
	ConclusionNoClearWinner ConclusionReason = "no_clear_winner"
	ConclusionCancelled     ConclusionReason = "cancelled"
)

// Experiment is a controlled comparison of content variants.
type Experiment struct {
	ID               string            `db:"id"                 json:"id"`
	Name             string            `db:"name"               json:"name"`
	Type             ExperimentType    `db:"type"               json:"type"`
	Status           ExperimentStatus  `db:"status"             json:"status"`
	MinSampleSize    int64             `db:"min_sample_size"    json:"min_sample_size"`
	Duration         time.Duration     `db:"duration"           json:"duration"`
	ConfidenceLevel  float64           `db:"confidence_level"   json:"confidence_level"`
	WinnerVariantID  *string           `db:"winner_variant_id"  json:"winner_variant_id,omitempty"`
	ConclusionReason *ConclusionReason `db:"conclusion_reason"  json:"conclusion_reason,omitempty"`
	CreatedAt        time.Time         `db:"created_at"         json:"created_at"`
	StartedAt        *time.Time        `db:"started_at"         json:"started_at,omitempty"`
	ConcludedAt      *time.Time        `db:"concluded_at"       json:"concluded_at,omitempty"`

	Variants []Variant `db:"-" json:"variants,omitempty"`
}

// IsConcluded reports whether the experiment reached its terminal state.
func (e *Experiment) IsConcluded() bool {
	return e.Status == ExperimentStatusConcluded
}

// DurationElapsed reports whether the configured duration has passed since
// the experiment started running. Draft experiments never elapse.
func (e *Experiment) DurationElapsed(now time.Time) bool {
	if e.StartedAt == nil {
		return false
	}
	return !now.Before(e.StartedAt.Add(e.Duration))
}

// Variant is one candidate content/timing/format option under experimentation.
// Exactly one variant per experiment may carry the winner flag, set only by
// the conclusion algorithm.
type Variant struct {
	ID           string      `db:"id"            json:"id"`
	ExperimentID string      `db:"experiment_id" json:"experiment_id"`
	Ordinal      int         `db:"ordinal"       json:"ordinal"`
	Channel      string      `db:"channel"       json:"channel"`
	Body         string      `db:"body"          json:"body"`
	ContentType  ContentType `db:"content_type"  json:"content_type"`
	PublishAt    time.Time   `db:"publish_at"    json:"publish_at"`
	IsWinner     bool        `db:"is_winner"     json:"is_winner"`

	// Running aggregate statistics, refreshed from the metrics store.
	Exposures   int64 `db:"exposures"   json:"exposures"`
	Engaged     int64 `db:"engaged"     json:"engaged"`
	Conversions int64 `db:"conversions" json:"conversions"`
}

// EngagementRate returns the variant's point-estimate engagement rate.
func (v *Variant) EngagementRate() float64 {
	if v.Exposures == 0 {
		return 0
	}
	return float64(v.Engaged) / float64(v.Exposures)
}

// ConversionRate returns the variant's point-estimate conversion rate.
func (v *Variant) ConversionRate() float64 {
	if v.Exposures == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Exposures)
}
