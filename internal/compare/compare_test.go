package compare

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franz/mcsr-stats/internal/matchdata"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
)

// seed writes two users and their splits, then reopens the file read-only
func seed(t *testing.T, splits map[string][]matchdata.Split) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.db")
	ctx := context.Background()

	w, err := store.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	err = w.Transaction(ctx, func(tx *store.Tx) error {
		if err := tx.UpsertUser(ctx, &store.User{Key: "aaa", Nickname: "Feinberg", Updated: now, RawJSON: "{}"}); err != nil {
			return err
		}
		if err := tx.UpsertUser(ctx, &store.User{Key: "bbb", Nickname: "doogile", Updated: now, RawJSON: "{}"}); err != nil {
			return err
		}
		for matchID, rows := range splits {
			for _, sp := range rows {
				if err := tx.ReplaceSplit(ctx, matchID, sp); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	w.Close()

	ro, err := store.OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	t.Cleanup(func() { ro.Close() })
	return ro
}

func TestCompare(t *testing.T) {
	s := seed(t, map[string][]matchdata.Split{
		"m1": {
			{PlayerUUID: "aaa", Type: 3, TimeMs: 300},
			{PlayerUUID: "aaa", Type: 1, TimeMs: 100},
			{PlayerUUID: "bbb", Type: 1, TimeMs: 200},
			{PlayerUUID: "bbb", Type: 4, TimeMs: 999},
		},
		"m2": {
			{PlayerUUID: "aaa", Type: 1, TimeMs: 140},
			{PlayerUUID: "ccc", Type: 1, TimeMs: 400},
		},
	})

	res, err := Compare(context.Background(), s, "FEINBERG")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.UUID != "aaa" || res.Nickname != "Feinberg" {
		t.Errorf("unexpected identity: %+v", res)
	}

	want := []Row{
		{SplitType: 1, UserAvgMs: 120, GlobalAvgMs: 300, DeltaMs: -180, UserN: 2, GlobalN: 2},
		{SplitType: 3, UserAvgMs: 300, GlobalAvgMs: 0, DeltaMs: 0, UserN: 1, GlobalN: 0},
	}
	if len(res.Rows) != len(want) {
		t.Fatalf("rows = %+v, want %+v", res.Rows, want)
	}
	for i := range want {
		if res.Rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, res.Rows[i], want[i])
		}
	}
}

func TestCompareUnknownUser(t *testing.T) {
	s := seed(t, nil)

	_, err := Compare(context.Background(), s, "nobody")
	if !errors.Is(err, util.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	res, err := Compare(context.Background(), s, "doogile")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("expected no rows for a player without splits, got %+v", res.Rows)
	}
}

func TestFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Format(&buf, &Result{
		UUID:     "aaa",
		Nickname: "Feinberg",
		Rows: []Row{
			{SplitType: 1, UserAvgMs: 120, GlobalAvgMs: 300, DeltaMs: -180, UserN: 2, GlobalN: 2},
		},
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %q", buf.String())
	}
	if lines[0] != "Split comparison for Feinberg (aaa)" {
		t.Errorf("title = %q", lines[0])
	}
	want := "   1 |       120.0 |         300.0 |   -180.0 |      2 |       2"
	if lines[3] != want {
		t.Errorf("row = %q, want %q", lines[3], want)
	}
}
