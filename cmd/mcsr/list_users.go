package main

import (
	"fmt"

	"github.com/franz/mcsr-stats/internal/store"
	"github.com/spf13/cobra"
)

var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List harvested usernames, most recently seen first",
	Args:  cobra.NoArgs,
	RunE:  runListUsers,
}

func init() {
	rootCmd.AddCommand(listUsersCmd)

	listUsersCmd.Flags().Int("limit", 50, "rows to show")
}

func runListUsers(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := openReadOnlyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListKnownUsernames(cmd.Context(), max(1, limit))
	if err != nil {
		return err
	}
	return printKnownUsernames(cmd, rows)
}

func printKnownUsernames(cmd *cobra.Command, rows []*store.KnownUsername) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "known usernames: %d shown\n", len(rows))
	for _, r := range rows {
		if _, err := fmt.Fprintf(out, "- %s (%s, last_seen=%s)\n", r.Username, r.Source, store.FormatTime(r.LastSeen)); err != nil {
			return err
		}
	}
	return nil
}
