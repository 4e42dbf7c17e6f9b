package main

import (
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and bring its schema up to date",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	util.SuccessLog("initialized %s (schema version %d)", db.Path(), version)
	return nil
}
