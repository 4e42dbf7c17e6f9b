package matchdata

import (
	"testing"

	"github.com/franz/mcsr-stats/internal/jsontree"
)

const sampleMatch = `{
	"id": 2318844,
	"type": 2,
	"season": 7,
	"category": "ANY",
	"gameMode": "default",
	"date": 1735689600,
	"forfeited": false,
	"players": [
		{"uuid": "aaa", "nickname": "Feinberg", "eloRate": 2100, "change": 12},
		{"user": {"uuid": "bbb", "mc_name": "doogile"}, "eloRate": 1980, "change": -12},
		"garbage",
		{"uuid": "ccc"}
	],
	"result": {"uuid": "aaa", "time": 612345}
}`

func TestParse(t *testing.T) {
	m, ok := Parse(jsontree.MustParse(sampleMatch))
	if !ok {
		t.Fatal("expected a match")
	}

	if m.ID != "2318844" || m.Type != 2 || m.Season != 7 {
		t.Errorf("unexpected identity fields: %+v", m)
	}
	if m.Category != "ANY" || m.GameMode != "default" || m.DateEpoch != 1735689600 {
		t.Errorf("unexpected descriptive fields: %+v", m)
	}
	if m.Forfeited {
		t.Error("expected not forfeited")
	}
	if m.ResultUUID != "aaa" || m.ResultTimeMs != 612345 {
		t.Errorf("unexpected result: %+v", m)
	}

	if _, ok := Parse(jsontree.MustParse(`{"id": "", "type": 2}`)); ok {
		t.Error("expected no match without id")
	}
}

func TestPlayers(t *testing.T) {
	players := Players(jsontree.MustParse(sampleMatch))
	if len(players) != 3 {
		t.Fatalf("expected 3 object rows, got %d", len(players))
	}

	want := []Player{
		{UUID: "aaa", Name: "Feinberg", EloRate: 2100, EloChange: 12},
		{UUID: "bbb", Name: "doogile", EloRate: 1980, EloChange: -12},
		{UUID: "ccc"},
	}
	for i := range want {
		if players[i] != want[i] {
			t.Errorf("player %d = %+v, want %+v", i, players[i], want[i])
		}
	}

	if got := Players(jsontree.MustParse(`{"players": "none"}`)); len(got) != 0 {
		t.Errorf("expected no players, got %v", got)
	}
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		name   string
		result string
		uuid   string
		nick   string
		want   Outcome
	}{
		{"no winner", `{}`, "aaa", "Feinberg", Draw},
		{"uuid match ignores case", `{"uuid": "AAA"}`, "aaa", "", Won},
		{"name match", `{"uuid": "zzz", "nickname": "feinBERG"}`, "", "Feinberg", Won},
		{"name fallback key", `{"uuid": "zzz", "name": "Feinberg"}`, "aaa", "Feinberg", Won},
		{"other winner", `{"uuid": "bbb", "nickname": "doogile"}`, "aaa", "Feinberg", Lost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := jsontree.MustParse(`{"id": 1, "result": ` + tt.result + `}`)
			m, _ := Parse(doc)
			if got := OutcomeFor(m, tt.uuid, tt.nick); got != tt.want {
				t.Errorf("OutcomeFor = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOpponent(t *testing.T) {
	players := Players(jsontree.MustParse(sampleMatch))

	if got := Opponent(players, "aaa", "Feinberg"); got != "doogile" {
		t.Errorf("Opponent = %q, want doogile", got)
	}
	if got := Opponent(players, "", "FEINBERG"); got != "doogile" {
		t.Errorf("name-only match: Opponent = %q, want doogile", got)
	}
	if got := Opponent(players[:1], "aaa", "Feinberg"); got != UnknownOpponent {
		t.Errorf("solo match: Opponent = %q, want %q", got, UnknownOpponent)
	}
	if got := Opponent(nil, "aaa", "Feinberg"); got != UnknownOpponent {
		t.Errorf("no players: Opponent = %q", got)
	}
}

func TestSplits(t *testing.T) {
	detail := jsontree.MustParse(`{"timelines": [
		{"uuid": "aaa", "type": 1, "time": 95000},
		{"uuid": "aaa", "type": 2, "time": 180000},
		{"uuid": "", "type": 3, "time": 1},
		{"uuid": "bbb", "type": -1, "time": 5},
		{"uuid": "bbb", "type": 4, "time": -5},
		{"uuid": "bbb", "type": "x", "time": 5},
		{"uuid": "bbb", "type": 0, "time": 0},
		7
	]}`)

	splits := Splits(detail)
	want := []Split{
		{"aaa", 1, 95000},
		{"aaa", 2, 180000},
		{"bbb", 0, 0},
	}
	if len(splits) != len(want) {
		t.Fatalf("got %d splits, want %d: %+v", len(splits), len(want), splits)
	}
	for i := range want {
		if splits[i] != want[i] {
			t.Errorf("split %d = %+v, want %+v", i, splits[i], want[i])
		}
	}

	if got := Splits(jsontree.MustParse(`{"timelines": {}}`)); len(got) != 0 {
		t.Errorf("expected no splits, got %v", got)
	}
}
