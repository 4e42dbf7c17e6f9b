package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/mcsr-stats/internal/api"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure mcsr can operate correctly.

This command checks:
- SQLite version
- Database accessibility, integrity and schema version
- Event log directory permissions
- API configuration
- Upstream reachability (with --check-upstream)

The database is opened read-only; nothing is created or migrated.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().Bool("check-upstream", false, "fetch /api/leaderboard once to test connectivity")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== MCSR Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{
		checkSQLite(),
		checkDatabase(viper.GetString("db")),
		checkEventsDirectory(GetConfigString("events-dir", "artifacts")),
		checkAPIConfig(apiConfig()),
	}

	if upstream, _ := cmd.Flags().GetBool("check-upstream"); upstream {
		cfg := apiConfig()
		cfg.MaxRetries = 0
		results = append(results, checkUpstream(cmd.Context(), api.NewClient(cfg)))
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before syncing.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed.")
	}

	return nil
}

// checkSQLite verifies the embedded SQLite answers
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase opens the replica read-only and reports its size and contents
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Database",
				warning: true,
				message: fmt.Sprintf("%s does not exist yet (run 'mcsr init')", dbPath),
			}
		}
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.OpenReadOnly(dbPath)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	version, err := db.SchemaVersion()
	if err != nil || version == 0 {
		return checkResult{
			name:    "Database",
			warning: true,
			message: fmt.Sprintf("%s has no schema version (run 'mcsr init')", dbPath),
		}
	}

	counts, err := db.Counts(context.Background())
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot read %s: %v", dbPath, err),
		}
	}

	return checkResult{
		name: "Database",
		message: fmt.Sprintf("%s (%s, schema v%d, %s usernames, %s users, %s matches)",
			dbPath, humanize.Bytes(uint64(info.Size())), version,
			humanize.Comma(int64(counts.KnownUsernames)),
			humanize.Comma(int64(counts.Users)),
			humanize.Comma(int64(counts.Matches))),
	}
}

// checkEventsDirectory verifies event logs can be written
func checkEventsDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    "Events directory",
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    "Events directory",
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    "Events directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Events directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	testFile := filepath.Join(path, ".mcsr_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    "Events directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    "Events directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkAPIConfig reports the effective client settings
func checkAPIConfig(cfg api.Config) checkResult {
	key := "no API key"
	if cfg.APIKey != "" {
		key = fmt.Sprintf("API key via %s", cfg.APIKeyHeader)
	}
	msg := fmt.Sprintf("%s, %s, %v between requests, %d retries", cfg.BaseURL, key, cfg.MinInterval, cfg.MaxRetries)

	if cfg.MinInterval <= 0 {
		return checkResult{
			name:    "API",
			warning: true,
			message: msg + " (pacing disabled)",
		}
	}
	return checkResult{name: "API", message: msg}
}

// checkUpstream fetches the leaderboard once
func checkUpstream(ctx context.Context, client *api.Client) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	started := time.Now()
	doc, err := client.Get(ctx, "/api/leaderboard")
	if err != nil {
		res := checkResult{name: "Upstream", error: true, message: err.Error()}
		if errors.Is(err, util.ErrRateLimited) {
			res.error, res.warning = false, true
		}
		return res
	}

	users, _ := doc.Path("data", "users").List()
	return checkResult{
		name:    "Upstream",
		message: fmt.Sprintf("%s reachable in %s (%d leaderboard rows)", client.BaseURL(), time.Since(started).Round(time.Millisecond), len(users)),
	}
}
