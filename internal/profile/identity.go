package profile

import (
	"strings"

	"github.com/franz/mcsr-stats/internal/jsontree"
)

// Identity holds the user-row fields of a profile document
type Identity struct {
	Nickname string
	UUID     string
	Country  string
	EloRate  int64
	EloRank  int64
	PeakElo  int64
}

// Key is the users-table key: the upstream uuid, or a nickname-derived
// stand-in when the upstream omits one
func (id Identity) Key() string {
	if id.UUID != "" {
		return id.UUID
	}
	return "nick:" + id.Nickname
}

// ReadIdentity extracts identity fields. identifier is the nickname fallback.
func ReadIdentity(doc jsontree.Value, identifier string) Identity {
	nickname := jsontree.FirstText(doc.Get("nickname"))
	if nickname == "" {
		nickname = strings.TrimSpace(identifier)
	}

	eloRate := doc.Get("eloRate").IntOr(0)
	peak := eloRate
	for _, key := range []string{"peakElo", "eloPeak"} {
		v := doc.Get(key)
		if !v.Truthy() {
			continue
		}
		peak = v.IntOr(eloRate)
		break
	}

	return Identity{
		Nickname: nickname,
		UUID:     jsontree.FirstText(doc.Get("uuid")),
		Country:  jsontree.FirstText(doc.Get("country")),
		EloRate:  eloRate,
		EloRank:  doc.Get("eloRank").IntOr(0),
		PeakElo:  peak,
	}
}
