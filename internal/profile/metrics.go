// Package profile derives normalized statistics from user-profile documents
// whose layout differs between API versions and endpoints.
package profile

import (
	"strings"

	"github.com/franz/mcsr-stats/internal/jsontree"
)

// Average-time source priorities. The highest-priority positive value wins.
const (
	PriorityLifetime    = 320
	PriorityAchievement = 260
	PriorityDocument    = 220
	PrioritySeason      = 120
	PriorityStatistics  = 80
)

// lifetimeKeys are the statistics buckets that may hold all-time counters
var lifetimeKeys = []string{"all", "allTime", "overall", "global", "lifetime"}

// Metrics is the fixed record extracted from a profile
type Metrics struct {
	SeasonWins         int64
	SeasonLosses       int64
	SeasonCompletions  int64
	SeasonPoints       int64
	BestTimeMs         int64
	AverageTimeMs      int64
	BestWinStreak      int64
	ForfeitRatePercent *float64 // nil when unknown
}

// Candidate is one possible average-time reading
type Candidate struct {
	Source   string
	Priority int
	Value    int64
}

// ResolveAverageTime picks the highest-priority candidate with a positive value.
// Earlier candidates win ties. Returns 0 when no candidate is positive.
func ResolveAverageTime(candidates []Candidate) (int64, string) {
	best := Candidate{Priority: -1}
	for _, c := range candidates {
		if c.Value <= 0 {
			continue
		}
		if c.Priority > best.Priority {
			best = c
		}
	}
	if best.Priority < 0 {
		return 0, ""
	}
	return best.Value, best.Source
}

// buckets holds the sub-documents every reading is taken from
type buckets struct {
	doc     jsontree.Value
	stats   jsontree.Value
	season  jsontree.Value
	overall jsontree.Value
}

func splitBuckets(doc jsontree.Value) buckets {
	stats := doc.Get("statistics").ObjectOrEmpty()
	return buckets{
		doc:     doc,
		stats:   stats,
		season:  stats.Get("season").ObjectOrEmpty(),
		overall: stats.FirstObject(lifetimeKeys...),
	}
}

// Extract reads a profile document. Missing or misshapen fields read as zero;
// it never fails.
func Extract(doc jsontree.Value) Metrics {
	b := splitBuckets(doc)

	m := Metrics{
		SeasonWins:        rankedCount(b.season, "wins"),
		SeasonLosses:      losses(b.season),
		SeasonCompletions: rankedCount(b.season, "completions"),
		SeasonPoints:      rankedCount(b.season, "points"),
	}

	var candidates []Candidate
	display, _ := doc.Path("achievements", "display").List()
	for _, row := range display {
		if !row.IsObject() {
			continue
		}
		id := strings.ToLower(strings.TrimSpace(row.Get("id").Text()))
		value := row.Get("value").IntOr(0)
		switch id {
		case "besttime":
			m.BestTimeMs = max(m.BestTimeMs, value)
		case "highestwinstreak":
			m.BestWinStreak = max(m.BestWinStreak, value)
		case "averagetime", "avgtime":
			candidates = append(candidates, Candidate{"achievement", PriorityAchievement, value})
		}
	}

	candidates = append(candidates,
		Candidate{"lifetime", PriorityLifetime, readAverage(b.overall)},
		Candidate{"document", PriorityDocument, readAverage(b.doc)},
		Candidate{"season", PrioritySeason, readAverage(b.season)},
		Candidate{"statistics", PriorityStatistics, readAverage(b.stats)},
	)
	m.AverageTimeMs, _ = ResolveAverageTime(candidates)

	m.ForfeitRatePercent = forfeitRate(b)
	return m
}

// rankedCount reads key as a bare number or as {ranked: n}
func rankedCount(bucket jsontree.Value, key string) int64 {
	v := bucket.Get(key)
	if v.IsObject() {
		if r := v.Get("ranked"); r.IsNumber() {
			return r.IntOr(0)
		}
		return 0
	}
	if v.IsNumber() {
		return v.IntOr(0)
	}
	return 0
}

// losses prefers "loses" (the upstream spelling) and falls back to "losses"
func losses(bucket jsontree.Value) int64 {
	if n := rankedCount(bucket, "loses"); n != 0 {
		return n
	}
	return rankedCount(bucket, "losses")
}

// readAverage checks averageTime then avgTime. A bare number is returned as-is;
// an object yields its first numeric ranked/all/value, otherwise the next key
// is tried.
func readAverage(container jsontree.Value) int64 {
	if !container.IsObject() {
		return 0
	}
	for _, key := range []string{"averageTime", "avgTime"} {
		v := container.Get(key)
		if v.IsObject() {
			if inner, ok := v.Unwrap("ranked", "all", "value"); ok {
				return inner.IntOr(0)
			}
			continue
		}
		if v.IsNumber() {
			return v.IntOr(0)
		}
	}
	return 0
}
