package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/franz/mcsr-stats/internal/ingest"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/cobra"
)

var bulkSyncCmd = &cobra.Command{
	Use:   "bulk-sync",
	Short: "Sync many players taken from the known usernames table",
	Long: `Sync the most recently seen known usernames one after another.

A player that fails is logged and skipped; the run continues with the next
name. Interrupting (Ctrl-C) stops after the player in progress.`,
	Args: cobra.NoArgs,
	RunE: runBulkSync,
}

func init() {
	rootCmd.AddCommand(bulkSyncCmd)

	bulkSyncCmd.Flags().Int("limit", 200, "how many known usernames to sync")
	bulkSyncCmd.Flags().Int("pages", 1, "match pages per user")
	bulkSyncCmd.Flags().Bool("no-details", false, "skip the /api/matches/{id} detail fetch")
}

func runBulkSync(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	pages, _ := cmd.Flags().GetInt("pages")
	noDetails, _ := cmd.Flags().GetBool("no-details")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	events := newEventLogger()
	defer events.Close()

	opts := ingest.BulkOptions{
		Limit:        max(1, limit),
		Pages:        max(1, pages),
		FetchDetails: !noDetails,
	}
	bar := util.NewProgressBar(opts.Limit, "bulk-sync", "users")
	if bar != nil {
		opts.Progress = func(done, total int, username string, err error) {
			if done == 1 {
				bar.ChangeMax(total)
			}
			bar.Describe(username)
			bar.Add(1)
		}
	}

	started := time.Now()
	res, err := ingest.New(db, newAPIClient(), events).BulkSync(cmd.Context(), opts)
	if bar != nil {
		bar.Finish()
	}

	if res != nil && res.Attempted > 0 {
		util.InfoLog("bulk-sync: %d attempted, %d succeeded, %d failed in %s",
			res.Attempted, res.Succeeded, len(res.Failed), time.Since(started).Round(time.Second))
		for _, f := range res.Failed {
			util.WarnLog("  %s: %v", f.Username, f.Err)
		}
	}

	if err != nil {
		if errors.Is(err, cmd.Context().Err()) {
			util.WarnLog("bulk-sync interrupted")
			return nil
		}
		return fmt.Errorf("bulk-sync failed: %w", err)
	}
	return nil
}
