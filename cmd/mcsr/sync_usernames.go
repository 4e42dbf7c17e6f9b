package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/mcsr-stats/internal/harvest"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var syncUsernamesCmd = &cobra.Command{
	Use:   "sync-usernames",
	Short: "Harvest usernames from the leaderboards and the public matches feed",
	Long: `Harvest usernames into the known_usernames table.

Sources, in order:
- /api/leaderboard
- /api/record-leaderboard
- /api/matches?page=N for N in [match-page-start, match-page-start+max-match-pages)

The page walk ends at the first empty page. A failed page stops the walk but
keeps everything registered so far.`,
	Args: cobra.NoArgs,
	RunE: runSyncUsernames,
}

func init() {
	rootCmd.AddCommand(syncUsernamesCmd)
	addHarvestFlags(syncUsernamesCmd)
}

// addHarvestFlags registers the page-walk flags shared with name-index
func addHarvestFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-match-pages", 120, "max /api/matches pages to scan")
	cmd.Flags().Int("match-page-start", 0, "first /api/matches page to scan")
	cmd.Flags().Int("commit-every-pages", 25, "commit every N scanned match pages")
}

// harvestOptions reads the page-walk flags. The returned bar is nil when
// stderr is not a terminal.
func harvestOptions(cmd *cobra.Command) (harvest.Options, *progressbar.ProgressBar) {
	maxPages, _ := cmd.Flags().GetInt("max-match-pages")
	start, _ := cmd.Flags().GetInt("match-page-start")
	commitEvery, _ := cmd.Flags().GetInt("commit-every-pages")

	opts := harvest.Options{
		PageLimit:   max(1, maxPages),
		StartPage:   max(0, start),
		CommitEvery: max(1, commitEvery),
	}

	bar := util.NewProgressBar(opts.PageLimit, "match pages", "pages")
	if bar != nil {
		opts.Progress = func(page, names, added int) {
			bar.Describe(fmt.Sprintf("page %d (+%d)", page, added))
			bar.Add(1)
		}
	} else {
		opts.Progress = func(page, names, added int) {
			util.DebugLog("page %d: %d names, %d new", page, names, added)
		}
	}
	return opts, bar
}

func runSyncUsernames(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	events := newEventLogger()
	defer events.Close()

	opts, bar := harvestOptions(cmd)
	util.InfoLog("Harvesting usernames (pages %d..%d)", opts.StartPage, opts.StartPage+opts.PageLimit-1)

	started := time.Now()
	res, err := harvest.New(db, newAPIClient(), events).Harvest(cmd.Context(), opts)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("sync-usernames failed: %w", err)
	}

	total, _ := db.CountKnownUsernames(cmd.Context())
	util.SuccessLog("processed=%d new=%d match_pages_scanned=%d start_page=%d last_page=%d",
		res.Seen, res.Added, res.PagesScanned, res.StartPage, res.LastPage)
	util.InfoLog("%s known usernames in %s", humanize.Comma(int64(total)), time.Since(started).Round(time.Second))
	return nil
}
