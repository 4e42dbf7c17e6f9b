package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/mcsr-stats/internal/harvest"
	"github.com/franz/mcsr-stats/internal/index"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var nameIndexCmd = &cobra.Command{
	Use:   "name-index",
	Short: "Harvest usernames and rebuild the plaintext username index",
	Long: `Build a plaintext username index (one name per line, sorted
case-insensitively) for search and autocomplete, plus a .meta.json sidecar.

The rebuild is skipped while the existing file is younger than --refresh-days,
unless --force is given. A rebuild runs sync-usernames first.`,
	Args: cobra.NoArgs,
	RunE: runNameIndex,
}

var exportNameIndexCmd = &cobra.Command{
	Use:   "export-name-index",
	Short: "Write the username index from the database only (no API calls)",
	Args:  cobra.NoArgs,
	RunE:  runExportNameIndex,
}

var nameIndexStatsCmd = &cobra.Command{
	Use:   "name-index-stats",
	Short: "Compare the username index file with the database",
	Args:  cobra.NoArgs,
	RunE:  runNameIndexStats,
}

func init() {
	rootCmd.AddCommand(nameIndexCmd)
	rootCmd.AddCommand(exportNameIndexCmd)
	rootCmd.AddCommand(nameIndexStatsCmd)

	nameIndexCmd.Flags().String("output", defaultIndexPath, "output txt file (one username per line)")
	addHarvestFlags(nameIndexCmd)
	nameIndexCmd.Flags().Float64("refresh-days", 7, "skip the rebuild when the output is newer than this many days")
	nameIndexCmd.Flags().Bool("force", false, "rebuild even when the index is still fresh")

	exportNameIndexCmd.Flags().String("output", defaultIndexPath, "output txt file (one username per line)")
	exportNameIndexCmd.Flags().Int("max-match-pages", 120, "recorded in the sidecar only")

	nameIndexStatsCmd.Flags().String("input", defaultIndexPath, "index txt file path")
}

func runNameIndex(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	refreshDays, _ := cmd.Flags().GetFloat64("refresh-days")
	force, _ := cmd.Flags().GetBool("force")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	events := newEventLogger()
	defer events.Close()

	opts, bar := harvestOptions(cmd)
	exporter := index.NewExporter(afero.NewOsFs(), db, events)
	res, err := exporter.Refresh(cmd.Context(), harvest.New(db, newAPIClient(), events), index.RefreshOptions{
		Path:          output,
		RefreshWindow: time.Duration(max(0, refreshDays) * float64(24*time.Hour)),
		Force:         force,
		Harvest:       opts,
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("name-index failed: %w", err)
	}

	if res.Skipped {
		util.InfoLog("skip: %s is fresh (%.1fh old, refresh window %.1fd, ~%.1fh remaining)",
			output, res.Age.Hours(), refreshDays, res.Remaining.Hours())
		return nil
	}

	h := res.Harvest
	util.InfoLog("processed=%d new=%d match_pages_scanned=%d start_page=%d last_page=%d",
		h.Seen, h.Added, h.PagesScanned, h.StartPage, h.LastPage)
	printExport(res.Export)
	return nil
}

func runExportNameIndex(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	maxPages, _ := cmd.Flags().GetInt("max-match-pages")

	db, err := openReadOnlyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := index.NewExporter(afero.NewOsFs(), db, nil).Export(cmd.Context(), output, maxPages)
	if err != nil {
		return fmt.Errorf("export-name-index failed: %w", err)
	}
	printExport(res)
	return nil
}

func printExport(res *index.ExportResult) {
	util.SuccessLog("wrote %s usernames -> %s", humanize.Comma(int64(res.Count)), res.Path)
	util.InfoLog("delta vs previous file: %+d", res.Delta())
	util.InfoLog("meta -> %s", res.MetaPath)
}

func runNameIndexStats(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")

	db, err := openReadOnlyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := index.NewExporter(afero.NewOsFs(), db, nil).Stats(cmd.Context(), input)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "db known_usernames: %d\n", st.DBCount)
	fmt.Fprintf(out, "file usernames: %d\n", st.FileCount)
	fmt.Fprintf(out, "file-db delta: %+d\n", st.Delta())
	if st.FileFound {
		fmt.Fprintf(out, "file age: %.1fh (%s)\n", st.FileAge.Hours(), humanize.Time(time.Now().Add(-st.FileAge)))
	}
	if st.Meta != nil {
		fmt.Fprintf(out, "meta generated_utc: %s\n", st.Meta.GeneratedUTC)
		fmt.Fprintf(out, "meta username_count: %d\n", st.Meta.UsernameCount)
		fmt.Fprintf(out, "meta max_match_pages: %d\n", st.Meta.MaxMatchPages)
	}
	return nil
}
