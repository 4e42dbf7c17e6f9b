package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/mcsr-stats/internal/jsontree"
	"github.com/franz/mcsr-stats/internal/matchdata"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
)

type fakeAPI struct {
	docs  map[string]string
	errs  map[string]error
	calls map[string]int
	onGet func(path string)
}

func (f *fakeAPI) Get(ctx context.Context, path string) (jsontree.Value, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[path]++
	if f.onGet != nil {
		f.onGet(path)
	}
	if err := ctx.Err(); err != nil {
		return jsontree.Value{}, err
	}
	if err := f.errs[path]; err != nil {
		return jsontree.Value{}, err
	}
	raw, ok := f.docs[path]
	if !ok {
		raw = `{}`
	}
	return jsontree.Parse([]byte(raw))
}

const profileDoc = `{"status":"success","data":{
	"uuid":"aaa","nickname":"Feinberg","country":"us","eloRate":2000,"eloRank":4,
	"statistics":{"season":{"wins":{"ranked":3},"loses":{"ranked":1}}}
}}`

const historyPage0 = `{"data":[
	{"id":"m1","type":2,"forfeited":false,"result":{"uuid":"aaa","time":600000},
	 "players":[{"uuid":"aaa","nickname":"Feinberg","eloRate":2010,"change":10},{"uuid":"bbb","nickname":"doogile","eloRate":1990,"change":-10}]},
	{"id":"m2","type":2,"result":{"uuid":"AAA","time":500001},
	 "players":[{"uuid":"aaa","nickname":"Feinberg"},{"user":{"uuid":"ccc","nickname":"Third"}}]},
	{"id":"m3","type":2,"result":{"uuid":"bbb","time":400000},
	 "players":[{"uuid":"aaa","nickname":"Feinberg"},{"uuid":"bbb","nickname":"doogile"}]},
	{"id":"m4","type":2,"forfeited":true,"result":{"uuid":"aaa","time":1},
	 "players":[{"uuid":"aaa","nickname":"Feinberg"},{"eloRate":5},{"uuid":"bbb","nickname":"doogile"}]},
	{"id":"","type":2},
	"junk"
]}`

const historyPage1 = `{"data":[
	{"id":"m1","type":2,"result":{"uuid":"aaa","time":600000},
	 "players":[{"uuid":"aaa","nickname":"Feinberg"},{"uuid":"bbb","nickname":"doogile"}]}
]}`

func newFixture() *fakeAPI {
	return &fakeAPI{docs: map[string]string{
		"/api/users/Feinberg":                profileDoc,
		"/api/users/Feinberg/matches?page=0": historyPage0,
		"/api/users/Feinberg/matches?page=1": historyPage1,
		"/api/matches/m1":                    `{"data":{"timelines":[{"uuid":"aaa","type":1,"time":100},{"uuid":"bbb","type":1,"time":200}]}}`,
		"/api/matches/m2":                    `{"data":"nope"}`,
		"/api/matches/m3":                    `{"data":{"timelines":[{"uuid":"bbb","type":2,"time":300},{"uuid":"","type":2,"time":1}]}}`,
		"/api/matches/m4":                    `{"data":{"timelines":[]}}`,
	}}
}

func newPipeline(t *testing.T, fetcher Fetcher) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := New(s, fetcher, nil)
	p.SetClock(func() time.Time { return time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC) })
	return p, s
}

func TestSyncUserStoresEverything(t *testing.T) {
	api := newFixture()
	p, s := newPipeline(t, api)
	ctx := context.Background()

	sum, err := p.SyncUser(ctx, " Feinberg ", 3, true)
	if err != nil {
		t.Fatalf("SyncUser failed: %v", err)
	}

	if sum.Nickname != "Feinberg" || sum.UUID != "aaa" || sum.Pages != 3 {
		t.Errorf("unexpected summary identity: %+v", sum)
	}
	if sum.MatchesSeen != 5 {
		t.Errorf("MatchesSeen = %d, want 5 (m1 counted on both pages)", sum.MatchesSeen)
	}
	if sum.NewDetailMatches != 4 {
		t.Errorf("NewDetailMatches = %d, want 4", sum.NewDetailMatches)
	}
	if sum.SplitRowsStored != 3 {
		t.Errorf("SplitRowsStored = %d, want 3", sum.SplitRowsStored)
	}
	// mean of 600000 and 500001 rounds half to even
	if sum.BackfilledAverageMs != 550000 {
		t.Errorf("BackfilledAverageMs = %d, want 550000", sum.BackfilledAverageMs)
	}

	if api.calls["/api/users/Feinberg/matches?page=2"] != 1 {
		t.Error("expected the empty third page to end the walk")
	}
	if api.calls["/api/matches/m1"] != 1 {
		t.Errorf("m1 detail fetched %d times in one run", api.calls["/api/matches/m1"])
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := store.Counts{
		KnownUsernames: 3, Users: 1, Snapshots: 1, Matches: 4,
		MatchPlayers: 8, UserMatches: 4, MatchSplits: 3, SplitMatches: 2,
	}
	if *counts != want {
		t.Errorf("counts = %+v, want %+v", *counts, want)
	}

	rows, err := s.UserMatches(ctx, "Feinberg")
	if err != nil {
		t.Fatalf("user matches: %v", err)
	}
	byID := map[string]*store.UserMatch{}
	for _, r := range rows {
		byID[r.MatchID] = r
	}
	checks := []struct {
		id       string
		outcome  matchdata.Outcome
		opponent string
		page     int
	}{
		{"m1", matchdata.Won, "doogile", 1},
		{"m2", matchdata.Won, "Third", 0},
		{"m3", matchdata.Lost, "doogile", 0},
		{"m4", matchdata.Won, "doogile", 0},
	}
	for _, c := range checks {
		r := byID[c.id]
		if r == nil {
			t.Errorf("missing user match %s", c.id)
			continue
		}
		if r.Outcome != c.outcome || r.Opponent != c.opponent || r.PageIndex != c.page {
			t.Errorf("%s = %+v, want outcome %s opponent %s page %d", c.id, r, c.outcome, c.opponent, c.page)
		}
	}

	snap, _ := s.LatestSnapshot(ctx, "Feinberg")
	if snap.SeasonWins != 3 || snap.SeasonLosses != 1 || snap.AverageTimeMs != 550000 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.ForfeitRatePercent != nil {
		t.Errorf("expected unknown forfeit rate, got %v", *snap.ForfeitRatePercent)
	}

	if row, _ := s.GetKnownUsername(ctx, "Third"); row == nil || row.Source != store.SourceMatchPlayers {
		t.Errorf("Third = %+v", row)
	}
}

func TestSyncUserIsIdempotentAndFetchesSplitsOnce(t *testing.T) {
	api := newFixture()
	p, s := newPipeline(t, api)
	ctx := context.Background()

	if _, err := p.SyncUser(ctx, "Feinberg", 3, true); err != nil {
		t.Fatalf("first SyncUser failed: %v", err)
	}
	first, _ := s.Counts(ctx)

	sum, err := p.SyncUser(ctx, "Feinberg", 3, true)
	if err != nil {
		t.Fatalf("second SyncUser failed: %v", err)
	}
	second, _ := s.Counts(ctx)

	expected := *first
	expected.Snapshots++
	if *second != expected {
		t.Errorf("after re-run counts = %+v, want %+v", *second, expected)
	}

	// m1 and m3 have splits now; m2 and m4 stored none and stay new
	if sum.NewDetailMatches != 2 {
		t.Errorf("second run NewDetailMatches = %d, want 2", sum.NewDetailMatches)
	}
	if api.calls["/api/matches/m1"] != 1 || api.calls["/api/matches/m3"] != 1 {
		t.Errorf("matches with splits were fetched again: %v", api.calls)
	}
	if api.calls["/api/matches/m2"] != 2 {
		t.Errorf("m2 fetched %d times, want 2", api.calls["/api/matches/m2"])
	}
}

func TestSyncUserWithoutDetails(t *testing.T) {
	api := newFixture()
	p, s := newPipeline(t, api)
	ctx := context.Background()

	sum, err := p.SyncUser(ctx, "Feinberg", 1, false)
	if err != nil {
		t.Fatalf("SyncUser failed: %v", err)
	}
	if sum.NewDetailMatches != 4 || sum.SplitRowsStored != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	for path := range api.calls {
		if len(path) > len("/api/matches/") && path[:len("/api/matches/")] == "/api/matches/" {
			t.Errorf("unexpected detail fetch %s", path)
		}
	}
	if api.calls["/api/users/Feinberg/matches?page=1"] != 0 {
		t.Error("expected a single history page")
	}
	if counts, _ := s.Counts(ctx); counts.MatchSplits != 0 {
		t.Errorf("expected no splits, got %d", counts.MatchSplits)
	}
}

func TestBackfillNeverOverwritesReportedAverage(t *testing.T) {
	api := newFixture()
	api.docs["/api/users/Feinberg"] = `{"data":{"uuid":"aaa","nickname":"Feinberg","averageTime":700000}}`
	p, s := newPipeline(t, api)
	ctx := context.Background()

	sum, err := p.SyncUser(ctx, "Feinberg", 1, false)
	if err != nil {
		t.Fatalf("SyncUser failed: %v", err)
	}
	if sum.BackfilledAverageMs != 0 {
		t.Errorf("expected no backfill, got %d", sum.BackfilledAverageMs)
	}

	snap, _ := s.LatestSnapshot(ctx, "Feinberg")
	if snap.AverageTimeMs != 700000 {
		t.Errorf("AverageTimeMs = %d, want 700000", snap.AverageTimeMs)
	}
}

func TestSyncUserNotFound(t *testing.T) {
	api := &fakeAPI{
		docs: map[string]string{"/api/users/ghost": `{"status":"error","data":null}`},
		errs: map[string]error{"/api/users/gone": fmt.Errorf("status 404: %w", util.ErrNotFound)},
	}
	p, s := newPipeline(t, api)
	ctx := context.Background()

	for _, ident := range []string{"ghost", "gone"} {
		_, err := p.SyncUser(ctx, ident, 1, false)
		if !errors.Is(err, util.ErrUserNotFound) {
			t.Errorf("%s: expected ErrUserNotFound, got %v", ident, err)
		}
		if !IsUserNotFound(err) {
			t.Errorf("%s: IsUserNotFound = false", ident)
		}
	}

	if counts, _ := s.Counts(ctx); counts.Users != 0 || counts.Snapshots != 0 {
		t.Errorf("expected nothing stored, got %+v", counts)
	}
}

func TestSyncUserRollsBackOnPageError(t *testing.T) {
	api := newFixture()
	boom := errors.New("status 503")
	api.errs = map[string]error{"/api/users/Feinberg/matches?page=1": boom}
	p, s := newPipeline(t, api)
	ctx := context.Background()

	_, err := p.SyncUser(ctx, "Feinberg", 2, false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected page error, got %v", err)
	}

	counts, _ := s.Counts(ctx)
	if *counts != (store.Counts{}) {
		t.Errorf("expected a full rollback, got %+v", counts)
	}
}

func TestEscapedIdentifier(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{
		"/api/users/a%2Fb%20c": `{"data":{"nickname":"a/b c"}}`,
	}}
	p, s := newPipeline(t, api)
	ctx := context.Background()

	sum, err := p.SyncUser(ctx, "a/b c", 1, false)
	if err != nil {
		t.Fatalf("SyncUser failed: %v", err)
	}
	if sum.UUID != "" {
		t.Errorf("expected no uuid, got %q", sum.UUID)
	}
	if api.calls["/api/users/a%2Fb%20c/matches?page=0"] != 1 {
		t.Errorf("history not fetched with escaped identifier: %v", api.calls)
	}

	u, _ := s.FindUserByNickname(ctx, "a/b c")
	if u == nil || u.Key != "nick:a/b c" {
		t.Errorf("expected nick: key, got %+v", u)
	}
}
