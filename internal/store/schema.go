package store

// Schema v1. Absent values are stored as empty strings or 0 rather than NULL so the
// composite primary keys of match_players deduplicate on replace.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

-- Every nickname ever observed, with where it was last seen
CREATE TABLE IF NOT EXISTS known_usernames (
  username TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  first_seen_utc TEXT NOT NULL,
  last_seen_utc TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_known_usernames_last_seen ON known_usernames(last_seen_utc);

-- Latest profile per player, keyed by uuid or nick:<nickname>
CREATE TABLE IF NOT EXISTS users (
  uuid TEXT PRIMARY KEY,
  nickname TEXT NOT NULL UNIQUE,
  country TEXT,
  elo_rate INTEGER,
  elo_rank INTEGER,
  peak_elo INTEGER,
  updated_utc TEXT NOT NULL,
  raw_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_nickname_lower ON users(LOWER(nickname));

-- Append-only profile history
CREATE TABLE IF NOT EXISTS user_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  nickname TEXT NOT NULL,
  uuid TEXT,
  elo_rate INTEGER,
  elo_rank INTEGER,
  season_wins INTEGER,
  season_losses INTEGER,
  season_completions INTEGER,
  season_points INTEGER,
  best_time_ms INTEGER,
  average_time_ms INTEGER,
  forfeit_rate_percent REAL,
  best_win_streak INTEGER,
  polled_utc TEXT NOT NULL,
  raw_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_snapshots_nickname ON user_snapshots(nickname, id);

CREATE TABLE IF NOT EXISTS matches (
  match_id TEXT PRIMARY KEY,
  type INTEGER,
  season INTEGER,
  category TEXT,
  game_mode TEXT,
  date_epoch INTEGER,
  forfeited INTEGER NOT NULL DEFAULT 0,
  result_uuid TEXT,
  result_name TEXT,
  result_time_ms INTEGER,
  raw_json TEXT NOT NULL,
  updated_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS match_players (
  match_id TEXT NOT NULL,
  player_uuid TEXT,
  player_name TEXT,
  elo_rate INTEGER,
  elo_delta INTEGER,
  elo_after INTEGER,
  PRIMARY KEY (match_id, player_uuid, player_name)
);

-- One row per (tracked user, match) as seen from that user's side
CREATE TABLE IF NOT EXISTS user_matches (
  tracked_nickname TEXT NOT NULL,
  match_id TEXT NOT NULL,
  opponent_name TEXT,
  outcome TEXT NOT NULL,
  result_time_ms INTEGER,
  forfeited INTEGER NOT NULL DEFAULT 0,
  page_index INTEGER NOT NULL DEFAULT 0,
  category TEXT,
  game_mode TEXT,
  date_epoch INTEGER,
  PRIMARY KEY (tracked_nickname, match_id)
);

CREATE INDEX IF NOT EXISTS idx_user_matches_outcome ON user_matches(tracked_nickname, outcome);

CREATE TABLE IF NOT EXISTS match_splits (
  match_id TEXT NOT NULL,
  player_uuid TEXT NOT NULL,
  split_type INTEGER NOT NULL,
  time_ms INTEGER NOT NULL,
  PRIMARY KEY (match_id, player_uuid, split_type)
);

CREATE INDEX IF NOT EXISTS idx_match_splits_player ON match_splits(player_uuid, split_type);
`
