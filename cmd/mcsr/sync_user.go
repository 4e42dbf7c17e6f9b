package main

import (
	"fmt"

	"github.com/franz/mcsr-stats/internal/ingest"
	"github.com/franz/mcsr-stats/internal/report"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/cobra"
)

var syncUserCmd = &cobra.Command{
	Use:   "sync-user <identifier>",
	Short: "Sync one player's profile, match history and split timelines",
	Long: `Sync one player by nickname or uuid.

A profile snapshot is appended on every run. Match pages are walked from page 0
until --pages pages were read or a page comes back empty. Unless --no-details
is given, the full timeline of every match without stored splits is fetched
once and split rows are recorded.

Everything for the player is written in one transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: runSyncUser,
}

func init() {
	rootCmd.AddCommand(syncUserCmd)

	syncUserCmd.Flags().Int("pages", 2, "number of /api/users/{id}/matches pages")
	syncUserCmd.Flags().Bool("no-details", false, "skip the /api/matches/{id} detail fetch")
}

func runSyncUser(cmd *cobra.Command, args []string) error {
	pages, _ := cmd.Flags().GetInt("pages")
	noDetails, _ := cmd.Flags().GetBool("no-details")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	events := newEventLogger()
	defer events.Close()

	summary, err := ingest.New(db, newAPIClient(), events).SyncUser(cmd.Context(), args[0], pages, !noDetails)
	if ingest.IsUserNotFound(err) {
		return fmt.Errorf("no ranked profile for %q; check the nickname or uuid: %w", args[0], err)
	}
	if err != nil {
		return fmt.Errorf("sync-user failed: %w", err)
	}

	printSyncSummary(summary)
	return nil
}

func printSyncSummary(s *ingest.Summary) {
	util.SuccessLog("user=%s pages=%d matches=%d new_detail_matches=%d split_rows=%d",
		s.Nickname, s.Pages, s.MatchesSeen, s.NewDetailMatches, s.SplitRowsStored)
	if s.BackfilledAverageMs > 0 {
		util.InfoLog("  backfilled average time: %s", report.FormatDurationMs(s.BackfilledAverageMs))
	}
}
