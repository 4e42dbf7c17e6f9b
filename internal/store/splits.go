package store

import (
	"context"
	"fmt"

	"github.com/franz/mcsr-stats/internal/matchdata"
)

// SplitAverage is the mean time of one split type over a set of players
type SplitAverage struct {
	SplitType int64
	AvgMs     float64
	N         int
}

// Counts holds table row counts for reports and diagnostics
type Counts struct {
	KnownUsernames int
	Users          int
	Snapshots      int
	Matches        int
	MatchPlayers   int
	UserMatches    int
	MatchSplits    int
	SplitMatches   int
}

// HasSplits reports whether any split rows exist for the match
func (t *Tx) HasSplits(ctx context.Context, matchID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM (SELECT 1 FROM match_splits WHERE match_id = ? LIMIT 1)", matchID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check splits of match %s: %w", matchID, err)
	}
	return n > 0, nil
}

// ReplaceSplit writes one timeline checkpoint
func (t *Tx) ReplaceSplit(ctx context.Context, matchID string, s matchdata.Split) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO match_splits(match_id, player_uuid, split_type, time_ms)
		VALUES (?, ?, ?, ?)
	`, matchID, s.PlayerUUID, s.Type, s.TimeMs)
	if err != nil {
		return fmt.Errorf("failed to store split of match %s: %w", matchID, err)
	}
	return nil
}

// PlayerSplitAverages groups the player's splits by type
func (s *Store) PlayerSplitAverages(ctx context.Context, playerUUID string) ([]SplitAverage, error) {
	return s.splitAverages(ctx, `
		SELECT split_type, AVG(time_ms), COUNT(*)
		FROM match_splits
		WHERE player_uuid = ?
		GROUP BY split_type
		ORDER BY split_type
	`, playerUUID)
}

// PopulationSplitAverages groups everyone else's splits by type
func (s *Store) PopulationSplitAverages(ctx context.Context, excludeUUID string) ([]SplitAverage, error) {
	return s.splitAverages(ctx, `
		SELECT split_type, AVG(time_ms), COUNT(*)
		FROM match_splits
		WHERE player_uuid <> ?
		GROUP BY split_type
		ORDER BY split_type
	`, excludeUUID)
}

func (s *Store) splitAverages(ctx context.Context, query string, uuid string) ([]SplitAverage, error) {
	rows, err := s.db.QueryContext(ctx, query, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to average splits: %w", err)
	}
	defer rows.Close()

	var out []SplitAverage
	for rows.Next() {
		var a SplitAverage
		if err := rows.Scan(&a.SplitType, &a.AvgMs, &a.N); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Counts returns row counts of every table
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{}
	queries := []struct {
		dest  *int
		query string
	}{
		{&c.KnownUsernames, "SELECT COUNT(*) FROM known_usernames"},
		{&c.Users, "SELECT COUNT(*) FROM users"},
		{&c.Snapshots, "SELECT COUNT(*) FROM user_snapshots"},
		{&c.Matches, "SELECT COUNT(*) FROM matches"},
		{&c.MatchPlayers, "SELECT COUNT(*) FROM match_players"},
		{&c.UserMatches, "SELECT COUNT(*) FROM user_matches"},
		{&c.MatchSplits, "SELECT COUNT(*) FROM match_splits"},
		{&c.SplitMatches, "SELECT COUNT(DISTINCT match_id) FROM match_splits"},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}
	return c, nil
}
