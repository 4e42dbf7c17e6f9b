package report

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/mcsr-stats/internal/matchdata"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/goccy/go-json"
)

// SummaryReport is a snapshot of the local replica
type SummaryReport struct {
	GeneratedAt time.Time

	Counts  store.Counts
	Sources map[string]int

	TopUsers []UserSummary

	// From the event log, when one is given
	SyncsSucceeded int
	SyncsFailed    int
	HarvestAdded   int
	TopErrors      []ErrorSummary

	DatabasePath string
	EventLogPath string
}

// UserSummary is one row of the player table
type UserSummary struct {
	Nickname      string
	Country       string
	EloRate       int64
	PeakElo       int64
	Wins          int
	Losses        int
	Draws         int
	AverageTimeMs int64
	ForfeitRate   *float64
	Recent        []*store.UserMatch // newest first, at most recentMatches
}

const recentMatches = 5

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// GenerateSummaryReport gathers store statistics and, when eventLogPath is
// set, sync outcomes from that JSONL log
func GenerateSummaryReport(ctx context.Context, db *store.Store, eventLogPath string, topUsers int) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		DatabasePath: db.Path(),
		EventLogPath: eventLogPath,
		TopErrors:    make([]ErrorSummary, 0),
	}

	counts, err := db.Counts(ctx)
	if err != nil {
		return nil, err
	}
	report.Counts = *counts

	if report.Sources, err = db.SourceCounts(ctx); err != nil {
		return nil, err
	}

	if report.TopUsers, err = gatherTopUsers(ctx, db, topUsers); err != nil {
		return nil, err
	}

	if eventLogPath != "" {
		events, err := ReadEvents(eventLogPath)
		if err != nil {
			return nil, err
		}
		summarizeEvents(report, events, 10)
	}

	return report, nil
}

func gatherTopUsers(ctx context.Context, db *store.Store, limit int) ([]UserSummary, error) {
	users, err := db.TopUsers(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		row := UserSummary{
			Nickname: u.Nickname,
			Country:  u.Country,
			EloRate:  u.EloRate,
			PeakElo:  u.PeakElo,
		}

		outcomes, err := db.OutcomeCounts(ctx, u.Nickname)
		if err != nil {
			return nil, err
		}
		row.Wins = outcomes[matchdata.Won]
		row.Losses = outcomes[matchdata.Lost]
		row.Draws = outcomes[matchdata.Draw]

		matches, err := db.UserMatches(ctx, u.Nickname)
		if err != nil {
			return nil, err
		}
		row.Recent = matches[:min(len(matches), recentMatches)]

		snap, err := db.LatestSnapshot(ctx, u.Nickname)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			row.AverageTimeMs = snap.AverageTimeMs
			row.ForfeitRate = snap.ForfeitRatePercent
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadEvents decodes a JSONL event log. Undecodable lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

func summarizeEvents(report *SummaryReport, events []Event, limit int) {
	errorCounts := make(map[string]int)
	for _, e := range events {
		switch e.Event {
		case EventSyncUser:
			if e.Level == LevelError {
				report.SyncsFailed++
			} else {
				report.SyncsSucceeded++
			}
		case EventHarvest:
			report.HarvestAdded += e.Added
		}
		if e.Error != "" {
			errorCounts[e.Error]++
		}
	}

	for msg, count := range errorCounts {
		report.TopErrors = append(report.TopErrors, ErrorSummary{Error: msg, Count: count})
	}
	sort.Slice(report.TopErrors, func(i, j int) bool {
		if report.TopErrors[i].Count != report.TopErrors[j].Count {
			return report.TopErrors[i].Count > report.TopErrors[j].Count
		}
		return report.TopErrors[i].Error < report.TopErrors[j].Error
	})
	if len(report.TopErrors) > limit {
		report.TopErrors = report.TopErrors[:limit]
	}
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# MCSR Stats - Summary Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}
	md.WriteString("---\n\n")

	c := report.Counts
	md.WriteString("## Overview\n\n")
	md.WriteString("| Table | Rows |\n")
	md.WriteString("|-------|------|\n")
	rows := []struct {
		name string
		n    int
	}{
		{"Known usernames", c.KnownUsernames},
		{"Users", c.Users},
		{"Snapshots", c.Snapshots},
		{"Matches", c.Matches},
		{"Match players", c.MatchPlayers},
		{"User matches", c.UserMatches},
		{"Split rows", c.MatchSplits},
		{"Matches with splits", c.SplitMatches},
	}
	for _, r := range rows {
		md.WriteString(fmt.Sprintf("| %s | %s |\n", r.name, humanize.Comma(int64(r.n))))
	}
	md.WriteString("\n")

	if len(report.Sources) > 0 {
		md.WriteString("## Username Sources\n\n")
		md.WriteString("| Source | Names |\n")
		md.WriteString("|--------|-------|\n")
		sources := make([]string, 0, len(report.Sources))
		for s := range report.Sources {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, s := range sources {
			md.WriteString(fmt.Sprintf("| %s | %s |\n", s, humanize.Comma(int64(report.Sources[s]))))
		}
		md.WriteString("\n")
	}

	if len(report.TopUsers) > 0 {
		md.WriteString(fmt.Sprintf("## Players (Top %d by Elo)\n\n", len(report.TopUsers)))
		md.WriteString("| Player | Country | Elo | Peak | W | L | D | Avg Time | Forfeit % |\n")
		md.WriteString("|--------|---------|-----|------|---|---|---|----------|-----------|\n")
		for _, u := range report.TopUsers {
			forfeit := "-"
			if u.ForfeitRate != nil {
				forfeit = fmt.Sprintf("%.1f", *u.ForfeitRate)
			}
			md.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %d | %d | %s | %s |\n",
				u.Nickname, u.Country, u.EloRate, u.PeakElo, u.Wins, u.Losses, u.Draws,
				FormatDurationMs(u.AverageTimeMs), forfeit))
		}
		md.WriteString("\n")
	}

	if hasRecentMatches(report.TopUsers) {
		md.WriteString("## Recent Matches\n\n")
		md.WriteString("| Player | Match | Opponent | Outcome | Time |\n")
		md.WriteString("|--------|-------|----------|---------|------|\n")
		for _, u := range report.TopUsers {
			for _, m := range u.Recent {
				outcome := string(m.Outcome)
				if m.Forfeited {
					outcome += " (ff)"
				}
				md.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
					u.Nickname, m.MatchID, m.Opponent, outcome, FormatDurationMs(m.ResultTimeMs)))
			}
		}
		md.WriteString("\n")
	}

	if report.EventLogPath != "" {
		md.WriteString("## Sync Activity\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| User syncs succeeded | %d |\n", report.SyncsSucceeded))
		md.WriteString(fmt.Sprintf("| User syncs failed | %d |\n", report.SyncsFailed))
		md.WriteString(fmt.Sprintf("| Usernames added | %d |\n", report.HarvestAdded))
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, e := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", e.Count, truncate(e.Error, 120)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by mcsr-stats*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

func hasRecentMatches(users []UserSummary) bool {
	for _, u := range users {
		if len(u.Recent) > 0 {
			return true
		}
	}
	return false
}

// FormatDurationMs renders a run time as m:ss.mmm, or "-" when unknown
func FormatDurationMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	minutes := int64(d / time.Minute)
	seconds := int64((d % time.Minute) / time.Second)
	millis := int64((d % time.Second) / time.Millisecond)
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
