package domain

import "time"

// MetricSourceKind identifies where a metric sample came from.
// Sources overlap in what they observe, so samples carry a confidence weight
// and aggregation normalizes by each source's own measured reach.
type MetricSourceKind string

const (
	MetricSourcePlatform  MetricSourceKind = "platform_api"
	MetricSourceAnalytics MetricSourceKind = "analytics"
	MetricSourceClicks    MetricSourceKind = "click_tracker"
)

// MetricSample is a single reading of a post's counters from one source.
// Samples are append-only: corrections are new samples, never updates.
type MetricSample struct {
	ID          int64            `db:"id"           json:"id"`
	PostID      string           `db:"post_id"      json:"post_id"`
	Source      MetricSourceKind `db:"source"       json:"source"`
	CollectedAt time.Time        `db:"collected_at" json:"collected_at"`
	Views       int64            `db:"views"        json:"views"`
	Reactions   int64            `db:"reactions"    json:"reactions"`
	Shares      int64            `db:"shares"       json:"shares"`
	Comments    int64            `db:"comments"     json:"comments"`
	Reach       int64            `db:"reach"        json:"reach"`
	Clicks      int64            `db:"clicks"       json:"clicks"`
	Conversions int64            `db:"conversions"  json:"conversions"`
	Confidence  float64          `db:"confidence"   json:"confidence"`
}

// Interactions returns the sample's total interaction count.
func (s *MetricSample) Interactions() int64 {
	return s.Reactions + s.Shares + s.Comments
}

// MetricAggregate is the single mutable per-(post, window) record of derived
// engagement statistics, recomputed whenever new samples arrive.
type MetricAggregate struct {
	PostID           string    `db:"post_id"           json:"post_id"`
	Window           string    `db:"window"            json:"window"`
	EngagementRate   float64   `db:"engagement_rate"   json:"engagement_rate"`
	ConversionRate   float64   `db:"conversion_rate"   json:"conversion_rate"`
	ViralCoefficient float64   `db:"viral_coefficient" json:"viral_coefficient"`
	Reach            int64     `db:"reach"             json:"reach"`
	Comments         int64     `db:"comments"          json:"comments"`
	Confidence       float64   `db:"confidence"        json:"confidence"`
	SampleCount      int       `db:"sample_count"      json:"sample_count"`
	UpdatedAt        time.Time `db:"updated_at"        json:"updated_at"`
}

// AggregateWindowLifetime is the default aggregation window covering the full
// life of a post.
const AggregateWindowLifetime = "lifetime"

// ClickEvent is a single tracked outbound click on a published post,
// ingested by the click endpoint and consumed by the click metric source.
type ClickEvent struct {
	ID         int64     `db:"id"          json:"id"`
	PostID     string    `db:"post_id"     json:"post_id"`
	TargetHash string    `db:"target_hash" json:"target_hash"`
	SessionID  string    `db:"session_id"  json:"session_id,omitempty"`
	Converted  bool      `db:"converted"   json:"converted"`
	ClickedAt  time.Time `db:"clicked_at"  json:"clicked_at"`
}
