package viral

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/amplify/internal/domain"
)

func sampleAt(at time.Time, reach, reactions int64) domain.MetricSample {
	return domain.MetricSample{
		CollectedAt: at,
		Reach:       reach,
		Reactions:   reactions,
	}
}

func TestComputeSignals(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 30 * time.Minute

	samples := []domain.MetricSample{
		sampleAt(base, 1000, 20),               // rate 0.02
		sampleAt(base.Add(25*time.Minute), 2000, 120), // rate 0.06
		sampleAt(base.Add(10*time.Minute), 1400, 50),
	}

	sig := computeSignals(samples, 90, window)

	assert.InDelta(t, 1.0, sig.reachGrowth, 1e-9, "1000 -> 2000 is +100%")
	assert.InDelta(t, 3.0, sig.engagementSpike, 1e-9, "0.02 -> 0.06 is a 3x spike")
	assert.InDelta(t, 3.0, sig.commentsPerMinute, 1e-9)
}

func TestComputeSignalsOrdersByCollectionTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Newest sample listed first; ordering must come from CollectedAt
	samples := []domain.MetricSample{
		sampleAt(base.Add(20*time.Minute), 3000, 30),
		sampleAt(base, 1000, 10),
	}

	sig := computeSignals(samples, 0, 30*time.Minute)
	assert.InDelta(t, 2.0, sig.reachGrowth, 1e-9)
}

func TestComputeSignalsThinHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sig := computeSignals([]domain.MetricSample{sampleAt(base, 1000, 50)}, 60, 30*time.Minute)

	assert.Zero(t, sig.reachGrowth)
	assert.Zero(t, sig.engagementSpike)
	assert.InDelta(t, 2.0, sig.commentsPerMinute, 1e-9, "comment velocity still reads")
}

func TestComputeSignalsIgnoresZeroReachSamples(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	samples := []domain.MetricSample{
		sampleAt(base, 0, 0),
		sampleAt(base.Add(5*time.Minute), 500, 10),
		sampleAt(base.Add(10*time.Minute), 1500, 60),
	}

	sig := computeSignals(samples, 0, 30*time.Minute)
	assert.InDelta(t, 2.0, sig.reachGrowth, 1e-9)
}

func TestComputeSignalsSpikeFromZeroRate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	samples := []domain.MetricSample{
		sampleAt(base, 1000, 0),
		sampleAt(base.Add(10*time.Minute), 1200, 30),
	}

	sig := computeSignals(samples, 0, 30*time.Minute)
	assert.True(t, math.IsInf(sig.engagementSpike, 1), "engagement from nothing crosses any threshold")
}

func TestCrossesAll(t *testing.T) {
	thresholds := Thresholds{
		ReachGrowthRate:   0.5,
		EngagementSpike:   2.0,
		CommentsPerMinute: 1.0,
	}

	tests := []struct {
		name string
		sig  signals
		want bool
	}{
		{"all above", signals{0.6, 2.5, 3.0}, true},
		{"at the line", signals{0.5, 2.0, 1.0}, true},
		{"growth short", signals{0.4, 2.5, 3.0}, false},
		{"spike short", signals{0.6, 1.9, 3.0}, false},
		{"comments short", signals{0.6, 2.5, 0.9}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sig.crossesAll(thresholds))
		})
	}
}
