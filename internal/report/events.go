package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventHarvest     EventType = "harvest"
	EventHarvestPage EventType = "harvest_page"
	EventSyncUser    EventType = "sync_user"
	EventBackfill    EventType = "backfill"
	EventSplits      EventType = "splits"
	EventBulkSync    EventType = "bulk_sync"
	EventIndex       EventType = "name_index"
	EventError       EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is one line of the JSONL log
type Event struct {
	Timestamp  time.Time         `json:"ts"`
	RunID      string            `json:"run_id"`
	Level      EventLevel        `json:"level"`
	Event      EventType         `json:"event"`
	Nickname   string            `json:"nickname,omitempty"`
	UUID       string            `json:"uuid,omitempty"`
	MatchID    string            `json:"match_id,omitempty"`
	Page       *int              `json:"page,omitempty"`
	Count      int               `json:"count,omitempty"`
	Added      int               `json:"added,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Error      string            `json:"error,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil *EventLogger is valid
// and discards everything.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates events-<timestamp>.jsonl in outputDir. Every event
// written through it carries the same run id.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    uuid.NewString(),
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.RunID = l.runID

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogHarvest logs the outcome of a username harvest
func (l *EventLogger) LogHarvest(seen, added, pagesScanned, startPage, lastPage int, duration time.Duration, err error) error {
	level, errMsg := levelFor(err)
	return l.Log(&Event{
		Level:      level,
		Event:      EventHarvest,
		Count:      seen,
		Added:      added,
		DurationMs: duration.Milliseconds(),
		Error:      errMsg,
		Extra: map[string]string{
			"pages_scanned": fmt.Sprintf("%d", pagesScanned),
			"start_page":    fmt.Sprintf("%d", startPage),
			"last_page":     fmt.Sprintf("%d", lastPage),
		},
	})
}

// LogHarvestPage logs one scanned matches-feed page
func (l *EventLogger) LogHarvestPage(page, names, added int) error {
	return l.Log(&Event{
		Level: LevelDebug,
		Event: EventHarvestPage,
		Page:  &page,
		Count: names,
		Added: added,
	})
}

// LogSyncUser logs a completed or failed user sync
func (l *EventLogger) LogSyncUser(nickname, uuid string, matches, newDetails, splitRows int, duration time.Duration, err error) error {
	level, errMsg := levelFor(err)
	return l.Log(&Event{
		Level:      level,
		Event:      EventSyncUser,
		Nickname:   nickname,
		UUID:       uuid,
		Count:      matches,
		DurationMs: duration.Milliseconds(),
		Error:      errMsg,
		Extra: map[string]string{
			"new_detail_matches": fmt.Sprintf("%d", newDetails),
			"split_rows":         fmt.Sprintf("%d", splitRows),
		},
	})
}

// LogBackfill logs an average-time backfill on the latest snapshot
func (l *EventLogger) LogBackfill(nickname string, averageMs int64, samples int) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventBackfill,
		Nickname: nickname,
		Count:    samples,
		Extra: map[string]string{
			"average_time_ms": fmt.Sprintf("%d", averageMs),
		},
	})
}

// LogSplits logs split rows stored for a match
func (l *EventLogger) LogSplits(matchID string, rows int) error {
	return l.Log(&Event{
		Level:   LevelDebug,
		Event:   EventSplits,
		MatchID: matchID,
		Count:   rows,
	})
}

// LogBulkSync logs the totals of a bulk run
func (l *EventLogger) LogBulkSync(attempted, succeeded, failed int, duration time.Duration) error {
	level := LevelInfo
	if failed > 0 {
		level = LevelWarning
	}
	return l.Log(&Event{
		Level:      level,
		Event:      EventBulkSync,
		Count:      attempted,
		DurationMs: duration.Milliseconds(),
		Extra: map[string]string{
			"succeeded": fmt.Sprintf("%d", succeeded),
			"failed":    fmt.Sprintf("%d", failed),
		},
	})
}

// LogIndex logs a username index export or a skipped refresh
func (l *EventLogger) LogIndex(path string, count, previous int, skipped bool) error {
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventIndex,
		Count: count,
		Extra: map[string]string{
			"path":     path,
			"previous": fmt.Sprintf("%d", previous),
			"skipped":  fmt.Sprintf("%t", skipped),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, nickname string, err error) error {
	return l.Log(&Event{
		Level:    LevelError,
		Event:    event,
		Nickname: nickname,
		Error:    err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the id stamped on every event of this logger
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}

func levelFor(err error) (EventLevel, string) {
	if err != nil {
		return LevelError, err.Error()
	}
	return LevelInfo, ""
}
