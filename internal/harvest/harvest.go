// Package harvest discovers player nicknames from the leaderboards and the
// global matches feed and records them in known_usernames.
package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/mcsr-stats/internal/jsontree"
	"github.com/franz/mcsr-stats/internal/matchdata"
	"github.com/franz/mcsr-stats/internal/report"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
)

// Fetcher is the part of the API client the harvester needs
type Fetcher interface {
	Get(ctx context.Context, path string) (jsontree.Value, error)
}

// Options bounds the matches-feed walk
type Options struct {
	PageLimit   int // pages to scan, at least 1
	StartPage   int // first page, at least 0
	CommitEvery int // commit after this many scanned pages, at least 1

	// Progress is called after every scanned page
	Progress func(page, names, added int)
}

// Result summarizes a harvest
type Result struct {
	Seen         int
	Added        int
	PagesScanned int
	StartPage    int
	LastPage     int // StartPage-1 when no page was scanned
}

// Harvester crawls username sources
type Harvester struct {
	store  *store.Store
	api    Fetcher
	events *report.EventLogger
	now    func() time.Time
}

// New creates a harvester. events may be nil.
func New(s *store.Store, api Fetcher, events *report.EventLogger) *Harvester {
	return &Harvester{
		store:  s,
		api:    api,
		events: events,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for first/last seen stamps
func (h *Harvester) SetClock(now func() time.Time) {
	h.now = now
}

func (o Options) normalized() Options {
	o.PageLimit = max(1, o.PageLimit)
	o.StartPage = max(0, o.StartPage)
	o.CommitEvery = max(1, o.CommitEvery)
	return o
}

// batch is the open transaction plus the running counters
type batch struct {
	h   *Harvester
	tx  *store.Tx
	res *Result
}

func (b *batch) register(ctx context.Context, name, source string) (bool, error) {
	if name == "" {
		return false, nil
	}
	b.res.Seen++
	added, err := b.tx.UpsertKnownUsername(ctx, name, source, b.h.now())
	if err != nil {
		return false, err
	}
	if added {
		b.res.Added++
	}
	return added, nil
}

// Harvest registers names from the leaderboard, the record leaderboard and
// up to PageLimit pages of the matches feed. A leaderboard failure commits
// what was registered and returns the error; a feed page failure only ends
// the walk.
func (h *Harvester) Harvest(ctx context.Context, opts Options) (res *Result, err error) {
	opts = opts.normalized()
	started := time.Now()
	res = &Result{StartPage: opts.StartPage, LastPage: opts.StartPage - 1}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return res, err
	}
	b := &batch{h: h, tx: tx, res: res}
	defer func() {
		b.tx.Rollback()
		h.events.LogHarvest(res.Seen, res.Added, res.PagesScanned, res.StartPage, res.LastPage, time.Since(started), err)
	}()

	// finish commits the open batch and returns cause
	finish := func(cause error) (*Result, error) {
		if commitErr := b.tx.Commit(); commitErr != nil {
			if cause != nil {
				return res, fmt.Errorf("%w (commit also failed: %v)", cause, commitErr)
			}
			return res, commitErr
		}
		return res, cause
	}

	if err := h.leaderboard(ctx, b); err != nil {
		return finish(err)
	}
	if err := h.recordLeaderboard(ctx, b); err != nil {
		return finish(err)
	}

	for page := opts.StartPage; page < opts.StartPage+opts.PageLimit; page++ {
		doc, err := h.api.Get(ctx, fmt.Sprintf("/api/matches?page=%d", page))
		if err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			util.WarnLog("matches page %d failed: %v; stopping page scan", page, err)
			break
		}

		rows, ok := doc.Get("data").List()
		if !ok || len(rows) == 0 {
			util.DebugLog("matches page %d is empty; stopping page scan", page)
			break
		}

		res.PagesScanned++
		res.LastPage = page

		names, added := 0, 0
		for _, match := range rows {
			if !match.IsObject() {
				continue
			}
			for _, p := range matchdata.Players(match) {
				isNew, err := b.register(ctx, p.Name, store.SourceMatchesFeed)
				if err != nil {
					return finish(err)
				}
				if p.Name != "" {
					names++
				}
				if isNew {
					added++
				}
			}
		}

		h.events.LogHarvestPage(page, names, added)
		if opts.Progress != nil {
			opts.Progress(page, names, added)
		}

		if res.PagesScanned%opts.CommitEvery == 0 {
			if err := b.tx.Commit(); err != nil {
				return res, err
			}
			util.DebugLog("committed after %d match pages", res.PagesScanned)
			if b.tx, err = h.store.Begin(ctx); err != nil {
				// Nothing is open; swap in a no-op so the deferred rollback is safe
				b.tx = tx
				return res, err
			}
		}
	}

	return finish(nil)
}

func (h *Harvester) leaderboard(ctx context.Context, b *batch) error {
	doc, err := h.api.Get(ctx, "/api/leaderboard")
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	users, _ := doc.Path("data", "users").List()
	for _, row := range users {
		if !row.IsObject() {
			continue
		}
		if _, err := b.register(ctx, jsontree.FirstText(row.Get("nickname")), store.SourceLeaderboard); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harvester) recordLeaderboard(ctx context.Context, b *batch) error {
	doc, err := h.api.Get(ctx, "/api/record-leaderboard")
	if err != nil {
		return fmt.Errorf("record leaderboard: %w", err)
	}

	rows, _ := doc.Get("data").List()
	for _, row := range rows {
		if !row.IsObject() {
			continue
		}
		nickname := jsontree.FirstText(row.Path("user", "nickname"))
		if _, err := b.register(ctx, nickname, store.SourceRecordLeaderboard); err != nil {
			return err
		}
	}
	return nil
}
