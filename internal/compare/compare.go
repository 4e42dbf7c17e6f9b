// Package compare contrasts a player's split times with everyone else's.
package compare

import (
	"context"
	"fmt"
	"io"

	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
)

// Row is the comparison for one split type
type Row struct {
	SplitType   int64
	UserAvgMs   float64
	GlobalAvgMs float64
	DeltaMs     float64 // user minus population; 0 when GlobalN is 0
	UserN       int
	GlobalN     int
}

// Result is the comparison for one player
type Result struct {
	UUID     string
	Nickname string
	Rows     []Row
}

// Compare looks the player up by nickname (case-insensitive, most recently
// updated row) and averages split times per type for the player and for all
// other players. Only types the player has appear, in ascending order.
func Compare(ctx context.Context, s *store.Store, nickname string) (*Result, error) {
	user, err := s.FindUserByNickname(ctx, nickname)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %q not found in DB: %w", nickname, util.ErrUserNotFound)
	}

	own, err := s.PlayerSplitAverages(ctx, user.Key)
	if err != nil {
		return nil, err
	}
	others, err := s.PopulationSplitAverages(ctx, user.Key)
	if err != nil {
		return nil, err
	}

	population := make(map[int64]store.SplitAverage, len(others))
	for _, a := range others {
		population[a.SplitType] = a
	}

	res := &Result{UUID: user.Key, Nickname: user.Nickname}
	for _, a := range own {
		row := Row{SplitType: a.SplitType, UserAvgMs: a.AvgMs, UserN: a.N}
		if g, ok := population[a.SplitType]; ok && g.N > 0 {
			row.GlobalAvgMs = g.AvgMs
			row.GlobalN = g.N
			row.DeltaMs = a.AvgMs - g.AvgMs
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// Format writes the fixed-width comparison table
func Format(w io.Writer, r *Result) error {
	if _, err := fmt.Fprintf(w, "Split comparison for %s (%s)\n", r.Nickname, r.UUID); err != nil {
		return err
	}
	header := "type | user_avg_ms | global_avg_ms | delta_ms | user_n | global_n\n" +
		"-----+-------------+---------------+----------+--------+---------\n"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for _, row := range r.Rows {
		_, err := fmt.Fprintf(w, "%4d | %11.1f | %13.1f | %8.1f | %6d | %7d\n",
			row.SplitType, row.UserAvgMs, row.GlobalAvgMs, row.DeltaMs, row.UserN, row.GlobalN)
		if err != nil {
			return err
		}
	}
	return nil
}
