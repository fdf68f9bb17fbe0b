package viral

import (
	"math"
	"sort"
	"time"

	"github.com/jonesrussell/amplify/internal/domain"
)

// signals are the derived trailing-window movement figures a post is judged
// on.
type signals struct {
	reachGrowth       float64
	engagementSpike   float64
	commentsPerMinute float64
}

func (s signals) crossesAll(t Thresholds) bool {
	return s.reachGrowth >= t.ReachGrowthRate &&
		s.engagementSpike >= t.EngagementSpike &&
		s.commentsPerMinute >= t.CommentsPerMinute
}

// computeSignals derives movement from the raw samples inside the window.
// Growth compares the earliest and latest reach-bearing samples; the spike is
// the ratio of their engagement rates. Fewer than two usable samples yields
// zero movement, so a post with a thin history never triggers.
func computeSignals(samples []domain.MetricSample, commentCount int64, window time.Duration) signals {
	sig := signals{
		commentsPerMinute: float64(commentCount) / window.Minutes(),
	}

	usable := make([]domain.MetricSample, 0, len(samples))
	for _, s := range samples {
		if s.Reach > 0 {
			usable = append(usable, s)
		}
	}
	if len(usable) < 2 {
		return sig
	}
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].CollectedAt.Before(usable[j].CollectedAt)
	})

	first, last := usable[0], usable[len(usable)-1]

	sig.reachGrowth = float64(last.Reach-first.Reach) / float64(first.Reach)

	firstRate := float64(first.Interactions()) / float64(first.Reach)
	lastRate := float64(last.Interactions()) / float64(last.Reach)
	if firstRate > 0 {
		sig.engagementSpike = lastRate / firstRate
	} else if lastRate > 0 {
		// From nothing to something crosses any spike threshold.
		sig.engagementSpike = math.Inf(1)
	}

	return sig
}
