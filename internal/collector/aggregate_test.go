package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/amplify/internal/domain"
)

func TestComputeAggregateWeightedRates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := []domain.MetricSample{
		{
			PostID:     "post-1",
			Source:     domain.MetricSourcePlatform,
			Reach:      1000,
			Reactions:  80,
			Shares:     10,
			Comments:   10,
			Confidence: 1.0,
		},
		{
			PostID:      "post-1",
			Source:      domain.MetricSourceAnalytics,
			Reach:       500,
			Reactions:   20,
			Shares:      5,
			Comments:    0,
			Conversions: 15,
			Confidence:  0.5,
		},
	}

	agg := computeAggregate("post-1", samples, 1.9, now)

	// engagement = (1.0*100 + 0.5*25) / (1.0*1000 + 0.5*500) = 112.5 / 1250
	assert.InDelta(t, 0.09, agg.EngagementRate, 1e-9)
	// conversions = 0.5*15 / 1250
	assert.InDelta(t, 0.006, agg.ConversionRate, 1e-9)
	// confidence = observed mass over configured mass
	assert.InDelta(t, 1.5/1.9, agg.Confidence, 1e-9)

	assert.Equal(t, int64(1000), agg.Reach, "reach is the widest single observation")
	assert.Equal(t, int64(10), agg.Comments)
	assert.Equal(t, 2, agg.SampleCount)
	assert.Equal(t, domain.AggregateWindowLifetime, agg.Window)
}

func TestComputeAggregateSkipsZeroConfidence(t *testing.T) {
	now := time.Now()
	samples := []domain.MetricSample{
		{PostID: "post-1", Reach: 100, Reactions: 50, Confidence: 1.0},
		{PostID: "post-1", Reach: 9999, Reactions: 9999, Confidence: 0},
	}

	agg := computeAggregate("post-1", samples, 1.9, now)

	assert.InDelta(t, 0.5, agg.EngagementRate, 1e-9)
	assert.Equal(t, int64(100), agg.Reach, "zero-confidence sample contributes nothing")
	assert.InDelta(t, 1.0/1.9, agg.Confidence, 1e-9)
}

func TestComputeAggregateNoSamples(t *testing.T) {
	agg := computeAggregate("post-1", nil, 1.9, time.Now())

	assert.Zero(t, agg.EngagementRate)
	assert.Zero(t, agg.ConversionRate)
	assert.Zero(t, agg.Confidence)
	assert.Zero(t, agg.Reach)
	assert.Equal(t, 0, agg.SampleCount)
}

func TestComputeAggregateClampsRates(t *testing.T) {
	// Interactions exceeding reach happens when a post is reshared beyond
	// the measured audience; the rate still reads as 1.0 at most.
	samples := []domain.MetricSample{
		{PostID: "post-1", Reach: 10, Reactions: 50, Confidence: 1.0},
	}

	agg := computeAggregate("post-1", samples, 1.0, time.Now())
	assert.InDelta(t, 1.0, agg.EngagementRate, 1e-9)
}

func TestViralCoefficient(t *testing.T) {
	tests := []struct {
		name    string
		reaches []int64
		want    float64
	}{
		{name: "no samples", reaches: nil, want: 0},
		{name: "single sample", reaches: []int64{100}, want: 1.0},
		{name: "steady growth", reaches: []int64{100, 200, 350}, want: 3.5},
		{name: "zero reach ignored", reaches: []int64{0, 100, 250}, want: 2.5},
		{name: "all zero", reaches: []int64{0, 0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var samples []domain.MetricSample
			for _, r := range tt.reaches {
				samples = append(samples, domain.MetricSample{Reach: r})
			}
			assert.InDelta(t, tt.want, viralCoefficient(samples), 1e-9)
		})
	}
}
