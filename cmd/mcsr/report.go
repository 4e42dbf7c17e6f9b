package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/mcsr-stats/internal/report"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a summary report from the database and an event log",
	Long: `Generate a summary report in Markdown format.

The report includes:
- Row counts of every table
- Known usernames per source
- Top players by Elo with their win/loss record and latest averages
- Sync outcomes and top errors from an event log (--event-log)

The report is saved to artifacts/reports/<timestamp>/summary.md`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("out", "", "output directory for the report (default: artifacts/reports/<timestamp>)")
	reportCmd.Flags().String("event-log", "", "path to an event log file (optional)")
	reportCmd.Flags().Int("top", 25, "players listed in the report")
}

func runReport(cmd *cobra.Command, args []string) error {
	eventLogPath, _ := cmd.Flags().GetString("event-log")
	top, _ := cmd.Flags().GetInt("top")

	db, err := openReadOnlyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	util.InfoLog("Analyzing %s...", db.Path())
	summary, err := report.GenerateSummaryReport(cmd.Context(), db, eventLogPath, max(1, top))
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		outputDir = filepath.Join("artifacts", "reports", time.Now().Format("20060102-150405"))
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.SuccessLog("Report saved to: %s", outputPath)
	util.InfoLog("  Known usernames: %s", humanize.Comma(int64(summary.Counts.KnownUsernames)))
	util.InfoLog("  Users: %s", humanize.Comma(int64(summary.Counts.Users)))
	util.InfoLog("  Matches: %s (%s with splits)",
		humanize.Comma(int64(summary.Counts.Matches)), humanize.Comma(int64(summary.Counts.SplitMatches)))
	if summary.SyncsFailed > 0 {
		util.WarnLog("  Failed syncs: %d", summary.SyncsFailed)
	}
	return nil
}
