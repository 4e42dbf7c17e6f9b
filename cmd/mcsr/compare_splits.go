package main

import (
	"github.com/franz/mcsr-stats/internal/compare"
	"github.com/spf13/cobra"
)

var compareSplitsCmd = &cobra.Command{
	Use:   "compare-splits <nickname>",
	Short: "Compare a player's split times with every other stored player",
	Long: `Average the player's split times per split type and compare them with
the average over all other players. The player must already be in the
database (see sync-user). Only split types the player has are listed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompareSplits,
}

func init() {
	rootCmd.AddCommand(compareSplitsCmd)
}

func runCompareSplits(cmd *cobra.Command, args []string) error {
	db, err := openReadOnlyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := compare.Compare(cmd.Context(), db, args[0])
	if err != nil {
		return err
	}
	return compare.Format(cmd.OutOrStdout(), res)
}
