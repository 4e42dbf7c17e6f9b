// Package matchdata reads match documents from the matches feed, user match
// history and match detail endpoints.
package matchdata

import (
	"github.com/franz/mcsr-stats/internal/jsontree"
	"golang.org/x/text/cases"
)

// Outcome of a match from the tracked user's point of view
type Outcome string

const (
	Won  Outcome = "WON"
	Lost Outcome = "LOST"
	Draw Outcome = "DRAW"
)

// UnknownOpponent is reported when no other named player is present
const UnknownOpponent = "Unknown"

// Match holds the columns of a matches row
type Match struct {
	ID           string
	Type         int64
	Season       int64
	Category     string
	GameMode     string
	DateEpoch    int64
	Forfeited    bool
	ResultUUID   string
	ResultName   string
	ResultTimeMs int64
	Raw          jsontree.Value
}

// Player is one participant of a match
type Player struct {
	UUID      string
	Name      string
	EloRate   int64
	EloChange int64
}

// Split is one timeline checkpoint from a match detail document
type Split struct {
	PlayerUUID string
	Type       int64
	TimeMs     int64
}

// Parse reads the match fields. ok is false when the document has no id.
func Parse(doc jsontree.Value) (Match, bool) {
	id := jsontree.FirstText(doc.Get("id"))
	if id == "" {
		return Match{}, false
	}
	result := doc.Get("result")
	return Match{
		ID:           id,
		Type:         doc.Get("type").IntOr(0),
		Season:       doc.Get("season").IntOr(0),
		Category:     jsontree.FirstText(doc.Get("category")),
		GameMode:     jsontree.FirstText(doc.Get("gameMode")),
		DateEpoch:    doc.Get("date").IntOr(0),
		Forfeited:    doc.Get("forfeited").Truthy(),
		ResultUUID:   jsontree.FirstText(result.Get("uuid")),
		ResultName:   jsontree.FirstText(result.Get("nickname"), result.Get("name")),
		ResultTimeMs: result.Get("time").IntOr(0),
		Raw:          doc,
	}, true
}

// Players lists the match participants. The uuid falls back to user.uuid and
// the name to nickname, mc_name, name and then the same keys under user.
// Non-object rows are skipped; rows may have an empty uuid or name.
func Players(doc jsontree.Value) []Player {
	rows, _ := doc.Get("players").List()
	players := make([]Player, 0, len(rows))
	for _, p := range rows {
		if !p.IsObject() {
			continue
		}
		user := p.Get("user")
		players = append(players, Player{
			UUID: jsontree.FirstText(p.Get("uuid"), user.Get("uuid")),
			Name: jsontree.FirstText(
				p.Get("nickname"), p.Get("mc_name"), p.Get("name"),
				user.Get("nickname"), user.Get("mc_name"), user.Get("name"),
			),
			EloRate:   p.Get("eloRate").IntOr(0),
			EloChange: p.Get("change").IntOr(0),
		})
	}
	return players
}

// Splits returns the usable timeline rows of a match detail document.
// Rows with an empty uuid or a negative (or unreadable) type or time are dropped.
func Splits(detail jsontree.Value) []Split {
	rows, _ := detail.Get("timelines").List()
	var splits []Split
	for _, row := range rows {
		if !row.IsObject() {
			continue
		}
		s := Split{
			PlayerUUID: jsontree.FirstText(row.Get("uuid")),
			Type:       row.Get("type").IntOr(-1),
			TimeMs:     row.Get("time").IntOr(-1),
		}
		if s.PlayerUUID == "" || s.Type < 0 || s.TimeMs < 0 {
			continue
		}
		splits = append(splits, s)
	}
	return splits
}

// OutcomeFor reports how the match ended for the tracked user. No recorded
// winner is a draw; the winner matches by uuid or, failing that, by name.
func OutcomeFor(m Match, trackedUUID, trackedName string) Outcome {
	if m.ResultUUID == "" {
		return Draw
	}
	if trackedUUID != "" && SameName(m.ResultUUID, trackedUUID) {
		return Won
	}
	if trackedName != "" && m.ResultName != "" && SameName(m.ResultName, trackedName) {
		return Won
	}
	return Lost
}

// Opponent returns the first named player that is not the tracked user
func Opponent(players []Player, trackedUUID, trackedName string) string {
	for _, p := range players {
		if trackedUUID != "" && p.UUID != "" && SameName(p.UUID, trackedUUID) {
			continue
		}
		if trackedName != "" && p.Name != "" && SameName(p.Name, trackedName) {
			continue
		}
		if p.Name != "" {
			return p.Name
		}
	}
	return UnknownOpponent
}

// SameName compares identifiers case-insensitively
func SameName(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}
