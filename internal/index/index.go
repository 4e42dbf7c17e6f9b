// Package index writes the flat username index used for search and
// autocomplete, together with its .meta.json sidecar.
package index

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/franz/mcsr-stats/internal/harvest"
	"github.com/franz/mcsr-stats/internal/report"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

// MetaSuffix is appended to the index path to name the sidecar
const MetaSuffix = ".meta.json"

// Meta is the sidecar document. Fields are declared in key order so the
// encoding has sorted keys.
type Meta struct {
	GeneratedUTC  string `json:"generated_utc"`
	MaxMatchPages int    `json:"max_match_pages"`
	UsernameCount int    `json:"username_count"`
}

// ExportResult describes a written index
type ExportResult struct {
	Count         int
	PreviousCount int
	Path          string
	MetaPath      string
}

// Delta is the change in line count against the previous file
func (r *ExportResult) Delta() int {
	return r.Count - r.PreviousCount
}

// Exporter writes and inspects index files
type Exporter struct {
	fs     afero.Fs
	store  *store.Store
	events *report.EventLogger
	now    func() time.Time
}

// NewExporter creates an exporter over fs. events may be nil.
func NewExporter(fs afero.Fs, s *store.Store, events *report.EventLogger) *Exporter {
	return &Exporter{fs: fs, store: s, events: events, now: time.Now}
}

// SetClock replaces the time source for generated_utc and file ages
func (e *Exporter) SetClock(now func() time.Time) {
	e.now = now
}

// Export writes every known username, one per line, sorted
// case-insensitively, and refreshes the sidecar
func (e *Exporter) Export(ctx context.Context, path string, maxMatchPages int) (*ExportResult, error) {
	path = filepath.Clean(path)
	res := &ExportResult{Path: path, MetaPath: path + MetaSuffix}

	previous, err := CountLines(e.fs, path)
	if err != nil {
		return nil, err
	}
	res.PreviousCount = previous

	names, err := e.store.SortedUsernames(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	if err := e.write(path, buf.Bytes()); err != nil {
		return nil, err
	}
	res.Count = len(names)

	meta := Meta{
		GeneratedUTC:  store.FormatTime(e.now()),
		MaxMatchPages: max(1, maxMatchPages),
		UsernameCount: res.Count,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode index meta: %w", err)
	}
	if err := e.write(res.MetaPath, append(raw, '\n')); err != nil {
		return nil, err
	}

	e.events.LogIndex(path, res.Count, res.PreviousCount, false)
	return res, nil
}

func (e *Exporter) write(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := e.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(e.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// RefreshOptions configures Refresh
type RefreshOptions struct {
	Path          string
	RefreshWindow time.Duration // skip when the file is younger; 0 always rebuilds
	Force         bool
	Harvest       harvest.Options
}

// RefreshResult reports what Refresh did
type RefreshResult struct {
	Skipped   bool
	Age       time.Duration
	Remaining time.Duration
	Harvest   *harvest.Result
	Export    *ExportResult
}

// Refresh harvests new names and rewrites the index, unless the existing
// file is still inside the refresh window
func (e *Exporter) Refresh(ctx context.Context, h *harvest.Harvester, opts RefreshOptions) (*RefreshResult, error) {
	path := filepath.Clean(opts.Path)

	if !opts.Force && opts.RefreshWindow > 0 {
		if info, err := e.fs.Stat(path); err == nil && !info.IsDir() {
			age := e.now().Sub(info.ModTime())
			if age >= 0 && age < opts.RefreshWindow {
				count, _ := CountLines(e.fs, path)
				e.events.LogIndex(path, count, count, true)
				return &RefreshResult{
					Skipped:   true,
					Age:       age,
					Remaining: opts.RefreshWindow - age,
				}, nil
			}
		}
	}

	hres, err := h.Harvest(ctx, opts.Harvest)
	if err != nil {
		return &RefreshResult{Harvest: hres}, fmt.Errorf("harvest failed: %w", err)
	}

	exp, err := e.Export(ctx, path, opts.Harvest.PageLimit)
	if err != nil {
		return &RefreshResult{Harvest: hres}, err
	}
	return &RefreshResult{Harvest: hres, Export: exp}, nil
}

// Stats compares an index file with the store
type Stats struct {
	DBCount   int
	FileCount int
	FileAge   time.Duration
	FileFound bool
	Meta      *Meta
	MetaErr   error // set when the sidecar exists but cannot be parsed
}

// Delta is file lines minus database rows
func (s *Stats) Delta() int {
	return s.FileCount - s.DBCount
}

// Stats inspects path, its sidecar and the known_usernames table
func (e *Exporter) Stats(ctx context.Context, path string) (*Stats, error) {
	path = filepath.Clean(path)

	dbCount, err := e.store.CountKnownUsernames(ctx)
	if err != nil {
		return nil, err
	}
	fileCount, err := CountLines(e.fs, path)
	if err != nil {
		return nil, err
	}
	st := &Stats{DBCount: dbCount, FileCount: fileCount}

	if info, err := e.fs.Stat(path); err == nil && !info.IsDir() {
		st.FileFound = true
		st.FileAge = max(0, e.now().Sub(info.ModTime()))
	}

	raw, err := afero.ReadFile(e.fs, path+MetaSuffix)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		st.MetaErr = err
	default:
		var meta Meta
		if err := json.Unmarshal(raw, &meta); err != nil {
			st.MetaErr = fmt.Errorf("meta parse error: %w", err)
		} else {
			meta.GeneratedUTC = strings.TrimSpace(meta.GeneratedUTC)
			st.Meta = &meta
		}
	}
	if st.MetaErr != nil {
		util.WarnLog("%s%s: %v", path, MetaSuffix, st.MetaErr)
	}

	return st, nil
}

// CountLines returns the number of non-blank lines in path, 0 when it does
// not exist
func CountLines(fs afero.Fs, path string) (int, error) {
	f, err := fs.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return 0, nil
	}

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return count, nil
}
