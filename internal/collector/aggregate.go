package collector

import (
	"time"

	"github.com/jonesrussell/amplify/internal/domain"
)

// computeAggregate derives the confidence-weighted aggregate from the latest
// sample of each source.
//
// Numerical semantics:
//
//	engagement rate = Σ w·(reactions+shares+comments) / Σ w·reach
//	conversion rate = Σ w·conversions / Σ w·reach
//
// both clamped to [0,1]. Sources overlap in what they observe, so counters
// are weighted by sample confidence and normalized by the sources' own
// measured reach rather than summed. A zero-confidence sample contributes
// nothing to any term.
//
// Overall confidence is the observed confidence mass over the total weight
// mass of the configured sources: missing sources degrade it proportionally.
func computeAggregate(postID string, latest []domain.MetricSample, totalWeightMass float64, now time.Time) *domain.MetricAggregate {
	var (
		weightedReach        float64
		weightedInteractions float64
		weightedConversions  float64
		observedMass         float64
		reach                int64
		comments             int64
	)

	for i := range latest {
		s := &latest[i]
		w := s.Confidence
		if w <= 0 {
			continue
		}
		weightedReach += w * float64(s.Reach)
		weightedInteractions += w * float64(s.Interactions())
		weightedConversions += w * float64(s.Conversions)
		observedMass += w
		if s.Reach > reach {
			reach = s.Reach
		}
		comments += s.Comments
	}

	agg := &domain.MetricAggregate{
		PostID:      postID,
		Window:      domain.AggregateWindowLifetime,
		Reach:       reach,
		Comments:    comments,
		SampleCount: len(latest),
		UpdatedAt:   now,
	}

	if weightedReach > 0 {
		agg.EngagementRate = clamp01(weightedInteractions / weightedReach)
		agg.ConversionRate = clamp01(weightedConversions / weightedReach)
	}
	if totalWeightMass > 0 {
		agg.Confidence = clamp01(observedMass / totalWeightMass)
	}
	return agg
}

// viralCoefficient measures how far a post's reach has grown beyond its
// earliest observed reach. 1.0 means no growth; 0 means not enough data.
func viralCoefficient(samples []domain.MetricSample) float64 {
	var firstReach, lastReach int64
	for i := range samples {
		if samples[i].Reach <= 0 {
			continue
		}
		if firstReach == 0 {
			firstReach = samples[i].Reach
		}
		lastReach = samples[i].Reach
	}
	if firstReach == 0 {
		return 0
	}
	return float64(lastReach) / float64(firstReach)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
