// Package ingest mirrors one user's profile, recent matches and match
// timelines into the local store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/franz/mcsr-stats/internal/api"
	"github.com/franz/mcsr-stats/internal/jsontree"
	"github.com/franz/mcsr-stats/internal/matchdata"
	"github.com/franz/mcsr-stats/internal/profile"
	"github.com/franz/mcsr-stats/internal/report"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
)

// Fetcher is the part of the API client the pipeline needs
type Fetcher interface {
	Get(ctx context.Context, path string) (jsontree.Value, error)
}

// Summary describes one completed user sync
type Summary struct {
	Nickname            string
	UUID                string
	Pages               int
	MatchesSeen         int
	NewDetailMatches    int
	SplitRowsStored     int
	BackfilledAverageMs int64 // 0 when the latest snapshot already had an average
}

// Pipeline syncs users from the API into the store
type Pipeline struct {
	store  *store.Store
	api    Fetcher
	events *report.EventLogger
	now    func() time.Time
}

// New creates a pipeline. events may be nil.
func New(s *store.Store, client Fetcher, events *report.EventLogger) *Pipeline {
	return &Pipeline{
		store:  s,
		api:    client,
		events: events,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for row timestamps
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// userSync carries the state of one SyncUser call
type userSync struct {
	p        *Pipeline
	tx       *store.Tx
	identity profile.Identity
	summary  *Summary

	observed map[string]matchdata.Match
	newIDs   []string
	newSeen  map[string]bool
}

// SyncUser fetches the profile of identifier (nickname or uuid), records a
// snapshot, walks up to pages pages of match history and, when fetchDetails
// is set, stores timelines of matches that have no splits yet. Everything is
// written in one transaction; any error rolls the whole user back.
func (p *Pipeline) SyncUser(ctx context.Context, identifier string, pages int, fetchDetails bool) (summary *Summary, err error) {
	started := time.Now()
	pages = max(1, pages)
	escaped := api.Escape(identifier)

	defer func() {
		if summary != nil {
			p.events.LogSyncUser(summary.Nickname, summary.UUID, summary.MatchesSeen,
				summary.NewDetailMatches, summary.SplitRowsStored, time.Since(started), err)
		} else if err != nil {
			p.events.LogError(report.EventSyncUser, identifier, err)
		}
	}()

	doc, err := p.api.Get(ctx, "/api/users/"+escaped)
	if err != nil {
		if api.IsNotFound(err) {
			return nil, fmt.Errorf("profile not found for %q: %w", identifier, util.ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to fetch profile %q: %w", identifier, err)
	}
	data := doc.Get("data")
	if !data.IsObject() {
		return nil, fmt.Errorf("profile not found for %q: %w", identifier, util.ErrUserNotFound)
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u := &userSync{
		p:        p,
		tx:       tx,
		identity: profile.ReadIdentity(data, identifier),
		observed: make(map[string]matchdata.Match),
		newSeen:  make(map[string]bool),
	}
	u.summary = &Summary{Nickname: u.identity.Nickname, UUID: u.identity.UUID, Pages: pages}

	if err := u.writeProfile(ctx, data); err != nil {
		return nil, err
	}

	for page := 0; page < pages; page++ {
		more, err := u.syncPage(ctx, escaped, page)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	if err := u.backfill(ctx); err != nil {
		return nil, err
	}

	if fetchDetails {
		if err := u.fetchDetails(ctx); err != nil {
			return nil, err
		}
	}
	u.summary.NewDetailMatches = len(u.newIDs)

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	util.DebugLog("synced %s: pages=%d matches=%d new_detail_matches=%d split_rows=%d",
		u.summary.Nickname, pages, u.summary.MatchesSeen, u.summary.NewDetailMatches, u.summary.SplitRowsStored)
	return u.summary, nil
}

func (u *userSync) writeProfile(ctx context.Context, data jsontree.Value) error {
	now := u.p.now()
	id := u.identity
	raw := data.String()

	if id.Nickname != "" {
		if _, err := u.tx.UpsertKnownUsername(ctx, id.Nickname, store.SourceProfile, now); err != nil {
			return err
		}
	}

	err := u.tx.UpsertUser(ctx, &store.User{
		Key:      id.Key(),
		Nickname: id.Nickname,
		Country:  id.Country,
		EloRate:  id.EloRate,
		EloRank:  id.EloRank,
		PeakElo:  id.PeakElo,
		Updated:  now,
		RawJSON:  raw,
	})
	if err != nil {
		return err
	}

	m := profile.Extract(data)
	return u.tx.InsertSnapshot(ctx, &store.Snapshot{
		Nickname:           id.Nickname,
		UUID:               id.UUID,
		EloRate:            id.EloRate,
		EloRank:            id.EloRank,
		SeasonWins:         m.SeasonWins,
		SeasonLosses:       m.SeasonLosses,
		SeasonCompletions:  m.SeasonCompletions,
		SeasonPoints:       m.SeasonPoints,
		BestTimeMs:         m.BestTimeMs,
		AverageTimeMs:      m.AverageTimeMs,
		ForfeitRatePercent: m.ForfeitRatePercent,
		BestWinStreak:      m.BestWinStreak,
		Polled:             now,
		RawJSON:            raw,
	})
}

// syncPage stores one page of match history. It returns false when the page
// is empty and the walk should stop.
func (u *userSync) syncPage(ctx context.Context, escaped string, page int) (bool, error) {
	doc, err := u.p.api.Get(ctx, fmt.Sprintf("/api/users/%s/matches?page=%d", escaped, page))
	if err != nil {
		return false, fmt.Errorf("failed to fetch matches page %d: %w", page, err)
	}

	rows, ok := doc.Get("data").List()
	if !ok || len(rows) == 0 {
		return false, nil
	}

	for _, row := range rows {
		if !row.IsObject() {
			continue
		}
		if err := u.storeMatch(ctx, row, page); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (u *userSync) storeMatch(ctx context.Context, doc jsontree.Value, page int) error {
	m, ok := matchdata.Parse(doc)
	if !ok {
		return nil
	}
	now := u.p.now()
	id := u.identity

	if err := u.tx.UpsertMatch(ctx, &m, now); err != nil {
		return err
	}

	players := matchdata.Players(doc)
	for _, pl := range players {
		if pl.UUID == "" && pl.Name == "" {
			continue
		}
		if err := u.tx.ReplaceMatchPlayer(ctx, m.ID, pl); err != nil {
			return err
		}
		if pl.Name != "" {
			if _, err := u.tx.UpsertKnownUsername(ctx, pl.Name, store.SourceMatchPlayers, now); err != nil {
				return err
			}
		}
	}

	err := u.tx.ReplaceUserMatch(ctx, &store.UserMatch{
		TrackedNickname: id.Nickname,
		MatchID:         m.ID,
		Opponent:        matchdata.Opponent(players, id.UUID, id.Nickname),
		Outcome:         matchdata.OutcomeFor(m, id.UUID, id.Nickname),
		ResultTimeMs:    m.ResultTimeMs,
		Forfeited:       m.Forfeited,
		PageIndex:       page,
		Category:        m.Category,
		GameMode:        m.GameMode,
		DateEpoch:       m.DateEpoch,
	})
	if err != nil {
		return err
	}
	u.summary.MatchesSeen++
	u.observed[m.ID] = m

	if u.newSeen[m.ID] {
		return nil
	}
	has, err := u.tx.HasSplits(ctx, m.ID)
	if err != nil {
		return err
	}
	if !has {
		u.newSeen[m.ID] = true
		u.newIDs = append(u.newIDs, m.ID)
	}
	return nil
}

// backfill fills a missing average time on the fresh snapshot with the mean
// result time of this run's completed, non-forfeited wins
func (u *userSync) backfill(ctx context.Context) error {
	var total int64
	var samples int
	for _, m := range u.observed {
		if matchdata.OutcomeFor(m, u.identity.UUID, u.identity.Nickname) != matchdata.Won {
			continue
		}
		if m.Forfeited || m.ResultTimeMs <= 0 {
			continue
		}
		total += m.ResultTimeMs
		samples++
	}
	if samples == 0 {
		return nil
	}

	avg := int64(math.RoundToEven(float64(total) / float64(samples)))
	changed, err := u.tx.BackfillAverageTime(ctx, u.identity.Nickname, avg)
	if err != nil {
		return err
	}
	if changed {
		u.summary.BackfilledAverageMs = avg
		u.p.events.LogBackfill(u.identity.Nickname, avg, samples)
	}
	return nil
}

func (u *userSync) fetchDetails(ctx context.Context) error {
	for _, id := range u.newIDs {
		doc, err := u.p.api.Get(ctx, "/api/matches/"+api.Escape(id))
		if err != nil {
			if api.IsNotFound(err) {
				util.WarnLog("match %s has no detail document", id)
				continue
			}
			return fmt.Errorf("failed to fetch match %s: %w", id, err)
		}

		data := doc.Get("data")
		if !data.IsObject() {
			continue
		}

		splits := matchdata.Splits(data)
		for _, s := range splits {
			if err := u.tx.ReplaceSplit(ctx, id, s); err != nil {
				return err
			}
		}
		u.summary.SplitRowsStored += len(splits)
		u.p.events.LogSplits(id, len(splits))
	}
	return nil
}

// IsUserNotFound reports whether err means the identifier has no profile
func IsUserNotFound(err error) bool {
	return errors.Is(err, util.ErrUserNotFound)
}
