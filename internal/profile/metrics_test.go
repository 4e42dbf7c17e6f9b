package profile

import (
	"math"
	"testing"

	"github.com/franz/mcsr-stats/internal/jsontree"
)

func TestExtractSeasonCounters(t *testing.T) {
	doc := jsontree.MustParse(`{
		"statistics": {
			"season": {
				"wins": {"ranked": 31, "casual": 2},
				"loses": {"ranked": 0},
				"losses": 12,
				"completions": {"ranked": 20},
				"points": "oops"
			}
		}
	}`)

	m := Extract(doc)
	if m.SeasonWins != 31 {
		t.Errorf("SeasonWins = %d, want 31", m.SeasonWins)
	}
	if m.SeasonLosses != 12 {
		t.Errorf("SeasonLosses = %d, want 12 (fallback to losses)", m.SeasonLosses)
	}
	if m.SeasonCompletions != 20 {
		t.Errorf("SeasonCompletions = %d, want 20", m.SeasonCompletions)
	}
	if m.SeasonPoints != 0 {
		t.Errorf("SeasonPoints = %d, want 0 for malformed value", m.SeasonPoints)
	}
}

func TestExtractEmptyAndMalformedDocuments(t *testing.T) {
	docs := []string{
		`{}`,
		`{"statistics": "nope", "achievements": 4}`,
		`{"statistics": {"season": [1, 2]}, "achievements": {"display": {"id": "besttime"}}}`,
	}
	for _, raw := range docs {
		m := Extract(jsontree.MustParse(raw))
		if m.SeasonWins != 0 || m.BestTimeMs != 0 || m.AverageTimeMs != 0 {
			t.Errorf("expected zero metrics for %s, got %+v", raw, m)
		}
		if m.ForfeitRatePercent != nil {
			t.Errorf("expected unknown forfeit rate for %s, got %v", raw, *m.ForfeitRatePercent)
		}
	}
}

func TestBestTimeKeepsMaximum(t *testing.T) {
	doc := jsontree.MustParse(`{
		"achievements": {"display": [
			{"id": "bestTime", "value": 612000},
			{"id": " BESTTIME ", "value": 655000},
			{"id": "besttime", "value": 598000},
			{"id": "highestWinStreak", "value": 7},
			{"id": "highestwinstreak", "value": 11},
			"junk",
			{"id": "besttime"}
		]}
	}`)

	m := Extract(doc)
	if m.BestTimeMs != 655000 {
		t.Errorf("BestTimeMs = %d, want max 655000", m.BestTimeMs)
	}
	if m.BestWinStreak != 11 {
		t.Errorf("BestWinStreak = %d, want 11", m.BestWinStreak)
	}
}

func TestAverageTimePriority(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want int64
	}{
		{
			name: "lifetime bucket beats everything",
			doc: `{"averageTime": 500000,
				"achievements": {"display": [{"id": "averagetime", "value": 600000}]},
				"statistics": {"avgTime": 1, "season": {"averageTime": 2},
					"overall": {"averageTime": {"ranked": 700000}}}}`,
			want: 700000,
		},
		{
			name: "achievement beats document",
			doc: `{"averageTime": 500000,
				"achievements": {"display": [{"id": "AvgTime", "value": 600000}]}}`,
			want: 600000,
		},
		{
			name: "document beats season",
			doc:  `{"avgTime": 510000, "statistics": {"season": {"averageTime": 400000}}}`,
			want: 510000,
		},
		{
			name: "season beats statistics root",
			doc:  `{"statistics": {"averageTime": 300000, "season": {"avgTime": {"all": 420000}}}}`,
			want: 420000,
		},
		{
			name: "zero lifetime falls through",
			doc:  `{"statistics": {"all": {"averageTime": 0}, "averageTime": {"value": 333000}}}`,
			want: 333000,
		},
		{
			name: "numeric averageTime zero stops the key scan",
			doc:  `{"averageTime": 0, "avgTime": 450000}`,
			want: 0,
		},
		{
			name: "object without numbers tries next key",
			doc:  `{"averageTime": {"ranked": null}, "avgTime": 450000}`,
			want: 450000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Extract(jsontree.MustParse(tt.doc))
			if m.AverageTimeMs != tt.want {
				t.Errorf("AverageTimeMs = %d, want %d", m.AverageTimeMs, tt.want)
			}
		})
	}
}

func TestResolveAverageTime(t *testing.T) {
	value, source := ResolveAverageTime([]Candidate{
		{"a", PrioritySeason, 100},
		{"b", PriorityDocument, -5},
		{"c", PriorityAchievement, 250},
		{"d", PriorityAchievement, 999},
	})
	if value != 250 || source != "c" {
		t.Errorf("got (%d, %s), want first highest-priority positive (250, c)", value, source)
	}

	if value, source := ResolveAverageTime(nil); value != 0 || source != "" {
		t.Errorf("expected zero for no candidates, got (%d, %s)", value, source)
	}
}

func TestForfeitRate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want *float64
	}{
		{
			name: "fraction in overall bucket",
			doc:  `{"statistics": {"total": {"forfeitRate": 0.25}, "all": {"forfeitRate": 0.25}}}`,
			want: ptr(25),
		},
		{
			name: "percent on document",
			doc:  `{"forfeitRatePercent": 12.5}`,
			want: ptr(12.5),
		},
		{
			name: "nested ranked value",
			doc:  `{"statistics": {"season": {"ffRate": {"ranked": 0.1}}}}`,
			want: ptr(10),
		},
		{
			name: "clamped above 100",
			doc:  `{"ffRate": 250}`,
			want: ptr(100),
		},
		{
			name: "clamped below zero",
			doc:  `{"ffRate": -3}`,
			want: ptr(0),
		},
		{
			name: "overall wins over document",
			doc:  `{"forfeitRate": 50, "statistics": {"lifetime": {"ffRate": 5}}}`,
			want: ptr(5),
		},
		{
			name: "computed from lifetime counters",
			doc:  `{"statistics": {"all": {"wins": {"ranked": 30}, "loses": {"ranked": 10}, "ffs": {"ranked": 4}}}}`,
			want: ptr(10),
		},
		{
			name: "computed with losses fallback",
			doc:  `{"statistics": {"all": {"wins": 1, "losses": 3, "ffs": 2}}}`,
			want: ptr(50),
		},
		{
			name: "no games played is unknown, not zero",
			doc:  `{"statistics": {"all": {"wins": 0, "loses": 0, "ffs": 0}}}`,
			want: nil,
		},
		{
			name: "no data at all",
			doc:  `{"nickname": "x"}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(jsontree.MustParse(tt.doc)).ForfeitRatePercent
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("expected nil, got %v", *got)
			case tt.want != nil && got == nil:
				t.Errorf("expected %v, got nil", *tt.want)
			case tt.want != nil && math.Abs(*got-*tt.want) > 1e-9:
				t.Errorf("got %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestReadIdentity(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		identifier string
		want       Identity
		key        string
	}{
		{
			name:       "full profile",
			doc:        `{"uuid": "abc123", "nickname": "Feinberg", "country": "us", "eloRate": 2100, "eloRank": 3, "peakElo": 2200}`,
			identifier: "feinberg",
			want:       Identity{Nickname: "Feinberg", UUID: "abc123", Country: "us", EloRate: 2100, EloRank: 3, PeakElo: 2200},
			key:        "abc123",
		},
		{
			name:       "eloPeak fallback and missing uuid",
			doc:        `{"nickname": "doogile", "eloRate": 1800, "peakElo": 0, "eloPeak": 1900}`,
			identifier: "doogile",
			want:       Identity{Nickname: "doogile", EloRate: 1800, PeakElo: 1900},
			key:        "nick:doogile",
		},
		{
			name:       "peak defaults to current elo",
			doc:        `{"eloRate": 1500}`,
			identifier: " someone ",
			want:       Identity{Nickname: "someone", EloRate: 1500, PeakElo: 1500},
			key:        "nick:someone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReadIdentity(jsontree.MustParse(tt.doc), tt.identifier)
			if got != tt.want {
				t.Errorf("ReadIdentity = %+v, want %+v", got, tt.want)
			}
			if got.Key() != tt.key {
				t.Errorf("Key() = %q, want %q", got.Key(), tt.key)
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }
