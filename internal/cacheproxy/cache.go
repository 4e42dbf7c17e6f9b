package cacheproxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
  key TEXT PRIMARY KEY,
  status_code INTEGER NOT NULL,
  content_type TEXT NOT NULL,
  body BLOB NOT NULL,
  fetched_epoch INTEGER NOT NULL,
  expires_epoch INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_epoch);

CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

INSERT INTO meta(key, value) VALUES('schema_version', '1')
ON CONFLICT(key) DO UPDATE SET value = excluded.value;
`

// Entry is one cached upstream response
type Entry struct {
	StatusCode   int
	ContentType  string
	Body         []byte
	FetchedEpoch int64
	ExpiresEpoch int64
}

// CacheStats summarizes the cache table
type CacheStats struct {
	EntryCount      int   `json:"entry_count"`
	MinFetchedEpoch int64 `json:"min_fetched_epoch"`
	MaxFetchedEpoch int64 `json:"max_fetched_epoch"`
}

// Cache is the SQLite response store. Its single connection serializes
// every access, so it is safe for concurrent handlers.
type Cache struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenCache opens or creates the cache database at path
func OpenCache(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{db: db, path: path, now: time.Now}, nil
}

// SetClock replaces the time source used for freshness
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Close closes the database
func (c *Cache) Close() error {
	return c.db.Close()
}

// Path returns the database file path
func (c *Cache) Path() string {
	return c.path
}

// Get returns the entry for key, or nil when it is absent or expired
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := c.db.QueryRowContext(ctx, `
		SELECT status_code, content_type, body, fetched_epoch, expires_epoch
		FROM cache_entries WHERE key = ?
	`, key).Scan(&e.StatusCode, &e.ContentType, &e.Body, &e.FetchedEpoch, &e.ExpiresEpoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if e.ExpiresEpoch <= c.now().Unix() {
		return nil, nil
	}
	return &e, nil
}

// Put stores a response for at least one second
func (c *Cache) Put(ctx context.Context, key string, status int, contentType string, body []byte, ttl time.Duration) (*Entry, error) {
	fetched := c.now().Unix()
	e := &Entry{
		StatusCode:   status,
		ContentType:  contentType,
		Body:         body,
		FetchedEpoch: fetched,
		ExpiresEpoch: fetched + max(1, int64(ttl/time.Second)),
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries(key, status_code, content_type, body, fetched_epoch, expires_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status_code = excluded.status_code,
			content_type = excluded.content_type,
			body = excluded.body,
			fetched_epoch = excluded.fetched_epoch,
			expires_epoch = excluded.expires_epoch
	`, key, e.StatusCode, e.ContentType, e.Body, e.FetchedEpoch, e.ExpiresEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}
	return e, nil
}

// Stats counts entries, expired ones included
func (c *Cache) Stats(ctx context.Context) (*CacheStats, error) {
	var s CacheStats
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(fetched_epoch), 0), COALESCE(MAX(fetched_epoch), 0)
		FROM cache_entries
	`).Scan(&s.EntryCount, &s.MinFetchedEpoch, &s.MaxFetchedEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return &s, nil
}

// Purge deletes expired entries and returns how many were removed
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_epoch <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return res.RowsAffected()
}
