package abtest

import "math"

// criticalZ returns the two-tailed critical z value for a confidence level,
// e.g. 1.96 for 0.95. Levels outside (0,1) fall back to 0.95.
func criticalZ(confidenceLevel float64) float64 {
	if confidenceLevel <= 0 || confidenceLevel >= 1 {
		confidenceLevel = 0.95
	}
	p := 1 - (1-confidenceLevel)/2
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// twoProportionZ computes the pooled two-proportion z statistic for
// successes1/trials1 vs successes2/trials2. Returns 0 when either sample is
// empty or the pooled variance degenerates (all successes or all failures).
func twoProportionZ(successes1, trials1, successes2, trials2 int64) float64 {
	if trials1 <= 0 || trials2 <= 0 {
		return 0
	}

	p1 := float64(successes1) / float64(trials1)
	p2 := float64(successes2) / float64(trials2)
	pooled := float64(successes1+successes2) / float64(trials1+trials2)

	variance := pooled * (1 - pooled) * (1/float64(trials1) + 1/float64(trials2))
	if variance <= 0 {
		return 0
	}

	return (p1 - p2) / math.Sqrt(variance)
}

// significantlyDifferent reports whether two observed proportions differ at
// the given critical z value.
func significantlyDifferent(successes1, trials1, successes2, trials2 int64, zCrit float64) bool {
	return math.Abs(twoProportionZ(successes1, trials1, successes2, trials2)) >= zCrit
}
