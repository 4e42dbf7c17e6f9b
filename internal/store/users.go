package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is the latest known profile of a player
type User struct {
	Key      string // upstream uuid, or nick:<nickname>
	Nickname string
	Country  string
	EloRate  int64
	EloRank  int64
	PeakElo  int64
	Updated  time.Time
	RawJSON  string
}

// Snapshot is one append-only profile observation
type Snapshot struct {
	ID                 int64
	Nickname           string
	UUID               string
	EloRate            int64
	EloRank            int64
	SeasonWins         int64
	SeasonLosses       int64
	SeasonCompletions  int64
	SeasonPoints       int64
	BestTimeMs         int64
	AverageTimeMs      int64
	ForfeitRatePercent *float64
	BestWinStreak      int64
	Polled             time.Time
	RawJSON            string
}

// UpsertUser writes the users row with last-write-wins semantics. A row
// under a different key that still holds the nickname is dropped first,
// since the nickname has moved to this key.
func (t *Tx) UpsertUser(ctx context.Context, u *User) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM users WHERE nickname = ? AND uuid <> ?", u.Nickname, u.Key)
	if err != nil {
		return fmt.Errorf("failed to release nickname: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO users(uuid, nickname, country, elo_rate, elo_rank, peak_elo, updated_utc, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			nickname = excluded.nickname,
			country = excluded.country,
			elo_rate = excluded.elo_rate,
			elo_rank = excluded.elo_rank,
			peak_elo = excluded.peak_elo,
			updated_utc = excluded.updated_utc,
			raw_json = excluded.raw_json
	`, u.Key, u.Nickname, u.Country, u.EloRate, u.EloRank, u.PeakElo, FormatTime(u.Updated), u.RawJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// InsertSnapshot appends a snapshot and sets its ID
func (t *Tx) InsertSnapshot(ctx context.Context, s *Snapshot) error {
	var forfeit any
	if s.ForfeitRatePercent != nil {
		forfeit = *s.ForfeitRatePercent
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_snapshots(
			nickname, uuid, elo_rate, elo_rank, season_wins, season_losses, season_completions,
			season_points, best_time_ms, average_time_ms, forfeit_rate_percent, best_win_streak,
			polled_utc, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Nickname, s.UUID, s.EloRate, s.EloRank, s.SeasonWins, s.SeasonLosses, s.SeasonCompletions,
		s.SeasonPoints, s.BestTimeMs, s.AverageTimeMs, forfeit, s.BestWinStreak,
		FormatTime(s.Polled), s.RawJSON)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		s.ID = id
	}
	return nil
}

// BackfillAverageTime sets average_time_ms on the nickname's latest snapshot
// when that snapshot has none. A non-zero value is never overwritten.
// It reports whether a row changed.
func (t *Tx) BackfillAverageTime(ctx context.Context, nickname string, averageMs int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_snapshots
		SET average_time_ms = COALESCE(NULLIF(average_time_ms, 0), ?)
		WHERE id = (SELECT MAX(id) FROM user_snapshots WHERE nickname = ?)
		  AND COALESCE(average_time_ms, 0) = 0
	`, averageMs, nickname)
	if err != nil {
		return false, fmt.Errorf("failed to backfill average time: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FindUserByNickname returns the most recently updated user whose nickname
// matches case-insensitively, or nil
func (s *Store) FindUserByNickname(ctx context.Context, nickname string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, nickname, COALESCE(country, ''), COALESCE(elo_rate, 0),
		       COALESCE(elo_rank, 0), COALESCE(peak_elo, 0), updated_utc, raw_json
		FROM users
		WHERE LOWER(nickname) = LOWER(?)
		ORDER BY updated_utc DESC
		LIMIT 1
	`, nickname)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// TopUsers returns up to limit users ordered by elo, highest first
func (s *Store) TopUsers(ctx context.Context, limit int) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, nickname, COALESCE(country, ''), COALESCE(elo_rate, 0),
		       COALESCE(elo_rank, 0), COALESCE(peak_elo, 0), updated_utc, raw_json
		FROM users
		ORDER BY elo_rate DESC, nickname ASC
		LIMIT ?
	`, max(1, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// LatestSnapshot returns the newest snapshot for nickname, or nil
func (s *Store) LatestSnapshot(ctx context.Context, nickname string) (*Snapshot, error) {
	var snap Snapshot
	var uuid sql.NullString
	var forfeit sql.NullFloat64
	var polled string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nickname, uuid, COALESCE(elo_rate, 0), COALESCE(elo_rank, 0),
		       COALESCE(season_wins, 0), COALESCE(season_losses, 0),
		       COALESCE(season_completions, 0), COALESCE(season_points, 0),
		       COALESCE(best_time_ms, 0), COALESCE(average_time_ms, 0),
		       forfeit_rate_percent, COALESCE(best_win_streak, 0), polled_utc, raw_json
		FROM user_snapshots
		WHERE nickname = ?
		ORDER BY id DESC
		LIMIT 1
	`, nickname).Scan(
		&snap.ID, &snap.Nickname, &uuid, &snap.EloRate, &snap.EloRank,
		&snap.SeasonWins, &snap.SeasonLosses,
		&snap.SeasonCompletions, &snap.SeasonPoints,
		&snap.BestTimeMs, &snap.AverageTimeMs,
		&forfeit, &snap.BestWinStreak, &polled, &snap.RawJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.UUID = uuid.String
	if forfeit.Valid {
		v := forfeit.Float64
		snap.ForfeitRatePercent = &v
	}
	snap.Polled, _ = ParseTime(polled)
	return &snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var updated string
	err := row.Scan(&u.Key, &u.Nickname, &u.Country, &u.EloRate, &u.EloRank, &u.PeakElo, &updated, &u.RawJSON)
	if err != nil {
		return nil, err
	}
	u.Updated, _ = ParseTime(updated)
	return &u, nil
}
