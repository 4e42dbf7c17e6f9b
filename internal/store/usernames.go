package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Username sources
const (
	SourceLeaderboard       = "leaderboard"
	SourceRecordLeaderboard = "record-leaderboard"
	SourceMatchesFeed       = "matches-feed"
	SourceProfile           = "profile"
	SourceMatchPlayers      = "match-players"
)

// KnownUsername is a row of known_usernames
type KnownUsername struct {
	Username  string
	Source    string
	FirstSeen time.Time
	LastSeen  time.Time
}

// UpsertKnownUsername registers a nickname. It returns true only when the
// name was not known before; for a known name last_seen_utc and source are
// refreshed. Blank names are ignored.
func (t *Tx) UpsertKnownUsername(ctx context.Context, username, source string, seen time.Time) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}
	now := FormatTime(seen)

	res, err := t.tx.ExecContext(ctx,
		"UPDATE known_usernames SET last_seen_utc = ?, source = ? WHERE username = ?",
		now, source, username)
	if err != nil {
		return false, fmt.Errorf("failed to update known username: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = t.tx.ExecContext(ctx,
		"INSERT INTO known_usernames(username, source, first_seen_utc, last_seen_utc) VALUES(?, ?, ?, ?)",
		username, source, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert known username: %w", err)
	}
	return true, nil
}

// GetKnownUsername returns the row for username, or nil when unknown
func (s *Store) GetKnownUsername(ctx context.Context, username string) (*KnownUsername, error) {
	var k KnownUsername
	var first, last string
	err := s.db.QueryRowContext(ctx, `
		SELECT username, source, first_seen_utc, last_seen_utc
		FROM known_usernames WHERE username = ?
	`, username).Scan(&k.Username, &k.Source, &first, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get known username: %w", err)
	}

	k.FirstSeen, _ = ParseTime(first)
	k.LastSeen, _ = ParseTime(last)
	return &k, nil
}

// RecentUsernames returns up to limit names, most recently seen first
func (s *Store) RecentUsernames(ctx context.Context, limit int) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT username FROM known_usernames
		ORDER BY last_seen_utc DESC, username ASC
		LIMIT ?
	`, max(1, limit))
}

// ListKnownUsernames returns up to limit rows in RecentUsernames order
func (s *Store) ListKnownUsernames(ctx context.Context, limit int) ([]*KnownUsername, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, source, first_seen_utc, last_seen_utc
		FROM known_usernames
		ORDER BY last_seen_utc DESC, username ASC
		LIMIT ?
	`, max(1, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list known usernames: %w", err)
	}
	defer rows.Close()

	var out []*KnownUsername
	for rows.Next() {
		var k KnownUsername
		var first, last string
		if err := rows.Scan(&k.Username, &k.Source, &first, &last); err != nil {
			return nil, err
		}
		k.FirstSeen, _ = ParseTime(first)
		k.LastSeen, _ = ParseTime(last)
		out = append(out, &k)
	}
	return out, rows.Err()
}

// SortedUsernames returns every non-blank name ordered case-insensitively
func (s *Store) SortedUsernames(ctx context.Context) ([]string, error) {
	names, err := s.queryStrings(ctx, `
		SELECT username FROM known_usernames
		ORDER BY LOWER(username), username
	`)
	if err != nil {
		return nil, err
	}

	out := names[:0]
	for _, name := range names {
		if strings.TrimSpace(name) != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// CountKnownUsernames returns the number of known_usernames rows
func (s *Store) CountKnownUsernames(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM known_usernames").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count known usernames: %w", err)
	}
	return n, nil
}

// SourceCounts returns the number of names per source
func (s *Store) SourceCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, COUNT(*) FROM known_usernames GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
