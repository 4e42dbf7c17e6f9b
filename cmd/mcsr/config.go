package main

import (
	"fmt"
	"time"

	"github.com/franz/mcsr-stats/internal/api"
	"github.com/franz/mcsr-stats/internal/report"
	"github.com/franz/mcsr-stats/internal/store"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/viper"
)

const (
	defaultDBPath    = "data/mcsr_stats.db"
	defaultTimeout   = 10 * time.Second
	defaultIndexPath = "mcsr_username_index.txt"
)

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (MCSR_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value; negative values fall back too
func GetConfigInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	val := viper.GetInt(key)
	if val < 0 {
		return defaultValue
	}
	return val
}

// GetConfigDuration retrieves a positive duration config value
func GetConfigDuration(key string, defaultValue time.Duration) time.Duration {
	val := viper.GetDuration(key)
	if val <= 0 {
		return defaultValue
	}
	return val
}

// apiConfig assembles the client settings from flags, env and config file
func apiConfig() api.Config {
	cfg := api.DefaultConfig()
	cfg.BaseURL = GetConfigString("base-url", cfg.BaseURL)
	cfg.Timeout = GetConfigDuration("timeout", cfg.Timeout)
	cfg.APIKey = viper.GetString("api-key")
	cfg.APIKeyHeader = GetConfigString("api-key-header", cfg.APIKeyHeader)
	cfg.MinInterval = time.Duration(GetConfigInt("min-interval-ms", 1300)) * time.Millisecond
	cfg.MaxRetries = GetConfigInt("max-retries", cfg.MaxRetries)
	return cfg
}

func newAPIClient() *api.Client {
	return api.NewClient(apiConfig())
}

func dbPath() string {
	return GetConfigString("db", defaultDBPath)
}

// openStore opens the database for writing, creating it when needed
func openStore() (*store.Store, error) {
	path := dbPath()
	util.DebugLog("Opening database: %s", path)
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openReadOnlyStore opens an existing database for queries only
func openReadOnlyStore() (*store.Store, error) {
	path := dbPath()
	util.DebugLog("Opening database read-only: %s", path)
	db, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// newEventLogger creates the run's JSONL log, degrading to a null logger
func newEventLogger() *report.EventLogger {
	level := report.LevelInfo
	if viper.GetBool("quiet") {
		level = report.LevelWarning
	} else if viper.GetBool("verbose") {
		level = report.LevelDebug
	}

	logger, err := report.NewEventLogger(GetConfigString("events-dir", "artifacts"), level)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.DebugLog("Event log: %s", logger.Path())
	return logger
}
