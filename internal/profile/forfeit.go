package profile

import "github.com/franz/mcsr-stats/internal/jsontree"

var forfeitKeys = []string{"forfeitRate", "forfeitRatePercent", "ffRate"}

// forfeitRate returns the first explicit rate found in the overall bucket, the
// document, the statistics root or the season bucket, in that order. Without
// one it is computed from lifetime counters; nil means no data.
func forfeitRate(b buckets) *float64 {
	sources := []jsontree.Value{b.overall, b.doc, b.stats, b.season}
	for _, src := range sources {
		if rate, ok := explicitRate(src); ok {
			return &rate
		}
	}

	wins := rankedCount(b.overall, "wins")
	total := wins + losses(b.overall)
	if total <= 0 {
		return nil
	}
	ffs := rankedCount(b.overall, "ffs")
	rate := clamp(100*float64(ffs)/float64(total), 0, 100)
	return &rate
}

// explicitRate reads one of the forfeit keys. Values in [0,1] are fractions.
func explicitRate(container jsontree.Value) (float64, bool) {
	if !container.IsObject() {
		return 0, false
	}
	for _, key := range forfeitKeys {
		v := container.Get(key)
		if v.IsObject() {
			inner, ok := v.Unwrap("ranked", "all", "value")
			if !ok {
				continue
			}
			v = inner
		}
		rate, ok := v.Number()
		if !ok {
			continue
		}
		if rate >= 0 && rate <= 1 {
			rate *= 100
		}
		return clamp(rate, 0, 100), true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
