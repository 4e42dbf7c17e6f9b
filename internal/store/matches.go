package store

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/mcsr-stats/internal/matchdata"
)

// UserMatch is a user_matches row
type UserMatch struct {
	TrackedNickname string
	MatchID         string
	Opponent        string
	Outcome         matchdata.Outcome
	ResultTimeMs    int64
	Forfeited       bool
	PageIndex       int
	Category        string
	GameMode        string
	DateEpoch       int64
}

// UpsertMatch writes the matches row, replacing every column on conflict
func (t *Tx) UpsertMatch(ctx context.Context, m *matchdata.Match, updated time.Time) error {
	raw, err := m.Raw.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode match %s: %w", m.ID, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO matches(
			match_id, type, season, category, game_mode, date_epoch, forfeited,
			result_uuid, result_name, result_time_ms, raw_json, updated_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(match_id) DO UPDATE SET
			type = excluded.type,
			season = excluded.season,
			category = excluded.category,
			game_mode = excluded.game_mode,
			date_epoch = excluded.date_epoch,
			forfeited = excluded.forfeited,
			result_uuid = excluded.result_uuid,
			result_name = excluded.result_name,
			result_time_ms = excluded.result_time_ms,
			raw_json = excluded.raw_json,
			updated_utc = excluded.updated_utc
	`, m.ID, m.Type, m.Season, m.Category, m.GameMode, m.DateEpoch, boolInt(m.Forfeited),
		m.ResultUUID, m.ResultName, m.ResultTimeMs, string(raw), FormatTime(updated))
	if err != nil {
		return fmt.Errorf("failed to upsert match %s: %w", m.ID, err)
	}
	return nil
}

// ReplaceMatchPlayer writes one participant row. elo_after mirrors the
// post-match rating reported as eloRate.
func (t *Tx) ReplaceMatchPlayer(ctx context.Context, matchID string, p matchdata.Player) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO match_players(
			match_id, player_uuid, player_name, elo_rate, elo_delta, elo_after
		) VALUES (?, ?, ?, ?, ?, ?)
	`, matchID, p.UUID, p.Name, p.EloRate, p.EloChange, p.EloRate)
	if err != nil {
		return fmt.Errorf("failed to store player of match %s: %w", matchID, err)
	}
	return nil
}

// ReplaceUserMatch writes the tracked user's view of a match
func (t *Tx) ReplaceUserMatch(ctx context.Context, um *UserMatch) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_matches(
			tracked_nickname, match_id, opponent_name, outcome, result_time_ms, forfeited,
			page_index, category, game_mode, date_epoch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, um.TrackedNickname, um.MatchID, um.Opponent, string(um.Outcome), um.ResultTimeMs,
		boolInt(um.Forfeited), um.PageIndex, um.Category, um.GameMode, um.DateEpoch)
	if err != nil {
		return fmt.Errorf("failed to store user match %s: %w", um.MatchID, err)
	}
	return nil
}

// UserMatches returns the stored rows for a tracked nickname, newest first
func (s *Store) UserMatches(ctx context.Context, nickname string) ([]*UserMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tracked_nickname, match_id, COALESCE(opponent_name, ''), outcome,
		       COALESCE(result_time_ms, 0), forfeited, page_index,
		       COALESCE(category, ''), COALESCE(game_mode, ''), COALESCE(date_epoch, 0)
		FROM user_matches
		WHERE tracked_nickname = ?
		ORDER BY date_epoch DESC, match_id DESC
	`, nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to list user matches: %w", err)
	}
	defer rows.Close()

	var out []*UserMatch
	for rows.Next() {
		var um UserMatch
		var outcome string
		var forfeited int
		err := rows.Scan(&um.TrackedNickname, &um.MatchID, &um.Opponent, &outcome,
			&um.ResultTimeMs, &forfeited, &um.PageIndex,
			&um.Category, &um.GameMode, &um.DateEpoch)
		if err != nil {
			return nil, err
		}
		um.Outcome = matchdata.Outcome(outcome)
		um.Forfeited = forfeited != 0
		out = append(out, &um)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of user_matches rows per outcome for a nickname
func (s *Store) OutcomeCounts(ctx context.Context, nickname string) (map[matchdata.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM user_matches
		WHERE tracked_nickname = ?
		GROUP BY outcome
	`, nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[matchdata.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[matchdata.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}
