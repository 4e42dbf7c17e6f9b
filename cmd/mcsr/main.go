package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/franz/mcsr-stats/internal/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "mcsr",
		Short: "MCSR Ranked stats - local replica and analytics for the ranked API",
		Long: `mcsr harvests player, match and split data from the MCSR Ranked web API
into a local SQLite replica and answers analytics questions from it.

Network commands (sync-usernames, sync-user, bulk-sync, name-index) are paced
and retried so long runs stay within the upstream rate limit. Query commands
(compare-splits, list-users, export-name-index, name-index-stats, report)
open the database read-only.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./configs/mcsr.yaml)")
	pf.String("db", defaultDBPath, "SQLite database file")
	pf.String("base-url", "https://mcsrranked.com", "MCSR API base URL")
	pf.Duration("timeout", defaultTimeout, "HTTP timeout per request")
	pf.String("api-key", "", "optional API key sent with every request")
	pf.String("api-key-header", "x-api-key", "header carrying --api-key")
	pf.Int("min-interval-ms", 1300, "minimum spacing between API requests in milliseconds")
	pf.Int("max-retries", 6, "extra attempts on 429, 5xx and network errors")
	pf.String("events-dir", "artifacts", "directory for JSONL event logs")
	pf.String("log-format", "console", "log output format (console or json)")
	pf.BoolP("verbose", "v", false, "verbose output")
	pf.BoolP("quiet", "q", false, "quiet output (errors only)")
	pf.Bool("no-color", false, "disable colored console output")

	// Bind flags to viper
	for _, name := range []string{
		"db", "base-url", "timeout", "api-key", "api-key-header", "min-interval-ms",
		"max-retries", "events-dir", "log-format", "verbose", "quiet", "no-color",
	} {
		viper.BindPFlag(name, pf.Lookup(name))
	}
}

func initConfig() {
	// A missing .env is normal
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("mcsr")
		viper.SetConfigType("yaml")
	}

	// MCSR_API_KEY, MCSR_MIN_INTERVAL_MS, ...
	viper.SetEnvPrefix("MCSR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if err := util.SetFormat(viper.GetString("log-format")); err != nil {
		return err
	}
	if viper.GetBool("no-color") {
		util.SetColors(false)
	}
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
