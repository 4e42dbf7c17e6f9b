package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/franz/mcsr-stats/internal/cacheproxy"
	"github.com/franz/mcsr-stats/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCacheCmd = &cobra.Command{
	Use:   "serve-cache",
	Short: "Run a read-through caching proxy in front of the ranked API",
	Long: `Serve GET /api/* from a persistent SQLite response cache, fetching from the
upstream on a miss. Freshness depends on the endpoint and the response status.

Append refresh=1 or force=1 to a query to bypass the cached copy. When an auth
token is configured every request must present it in the auth header or as
"Authorization: Bearer <token>"; the public token only opens /health.

Environment: BACKEND_BIND, BACKEND_PORT, MCSR_CACHE_DB, MCSR_UPSTREAM_BASE,
MCSR_UPSTREAM_TIMEOUT_S, MCSR_DEFAULT_TTL_S, MCSR_CACHE_AUTH_TOKEN,
MCSR_CACHE_AUTH_HEADER, MCSR_CACHE_PUBLIC_TOKEN.`,
	Args: cobra.NoArgs,
	RunE: runServeCache,
}

// viper keys of the proxy flags and the environment names they also read
var serveCacheBindings = []struct {
	key  string
	flag string
	env  string
}{
	{"cache.bind", "bind", "BACKEND_BIND"},
	{"cache.port", "port", "BACKEND_PORT"},
	{"cache.db", "cache-db", "MCSR_CACHE_DB"},
	{"cache.upstream", "upstream", "MCSR_UPSTREAM_BASE"},
	{"cache.timeout", "timeout-s", "MCSR_UPSTREAM_TIMEOUT_S"},
	{"cache.ttl", "ttl", "MCSR_DEFAULT_TTL_S"},
	{"cache.auth-token", "auth-token", "MCSR_CACHE_AUTH_TOKEN"},
	{"cache.auth-header", "auth-header", "MCSR_CACHE_AUTH_HEADER"},
	{"cache.public-token", "public-token", "MCSR_CACHE_PUBLIC_TOKEN"},
	{"cache.rate-limit", "rate-limit", "MCSR_CACHE_RATE_LIMIT"},
}

func init() {
	rootCmd.AddCommand(serveCacheCmd)

	d := cacheproxy.DefaultConfig()
	f := serveCacheCmd.Flags()
	f.String("bind", d.Bind, "bind address")
	f.Int("port", d.Port, "bind port")
	f.String("cache-db", d.CacheDB, "SQLite database for the response cache")
	f.String("upstream", d.Upstream, "upstream base URL")
	f.Float64("timeout-s", d.Timeout.Seconds(), "upstream timeout in seconds (min 0.5)")
	f.Int("ttl", int(d.DefaultTTL/time.Second), "default cache TTL in seconds (min 5)")
	f.Bool("no-forward-api-key", false, "do not forward x-api-key/Authorization from clients")
	f.String("auth-token", "", "token required by this service (header or Authorization: Bearer)")
	f.String("auth-header", d.AuthHeader, "header carrying --auth-token")
	f.String("public-token", "", "token that only opens /health")
	f.Int("rate-limit", 0, "requests per minute per client IP (0 disables)")
	f.Duration("purge-every", 10*time.Minute, "interval between expired-entry purges (0 disables)")

	for _, b := range serveCacheBindings {
		viper.BindPFlag(b.key, f.Lookup(b.flag))
		viper.BindEnv(b.key, b.env)
	}
}

// proxyConfig assembles the proxy settings. The upstream API key reuses the
// global --api-key and --api-key-header.
func proxyConfig(cmd *cobra.Command) cacheproxy.Config {
	noForward, _ := cmd.Flags().GetBool("no-forward-api-key")

	cfg := cacheproxy.Config{
		Bind:               viper.GetString("cache.bind"),
		Port:               viper.GetInt("cache.port"),
		CacheDB:            viper.GetString("cache.db"),
		Upstream:           viper.GetString("cache.upstream"),
		Timeout:            time.Duration(viper.GetFloat64("cache.timeout") * float64(time.Second)),
		DefaultTTL:         time.Duration(viper.GetInt("cache.ttl")) * time.Second,
		ForwardAPIKey:      !noForward,
		APIKey:             viper.GetString("api-key"),
		APIKeyHeader:       viper.GetString("api-key-header"),
		AuthToken:          viper.GetString("cache.auth-token"),
		AuthHeader:         viper.GetString("cache.auth-header"),
		PublicToken:        viper.GetString("cache.public-token"),
		RateLimitPerMinute: viper.GetInt("cache.rate-limit"),
	}
	return cfg.Normalized()
}

func runServeCache(cmd *cobra.Command, args []string) error {
	purgeEvery, _ := cmd.Flags().GetDuration("purge-every")

	cfg := proxyConfig(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	cache, err := cacheproxy.OpenCache(cfg.CacheDB)
	if err != nil {
		return err
	}
	defer cache.Close()

	srv, err := cacheproxy.NewServer(&cfg, cache)
	if err != nil {
		return err
	}

	absDB, _ := filepath.Abs(cfg.CacheDB)
	util.InfoLog("serving on http://%s upstream=%s db=%s ttl=%s auth=%s public_health_token=%s",
		cfg.Addr(), cfg.Upstream, absDB, cfg.DefaultTTL, onOff(cfg.AuthToken != ""), onOff(cfg.PublicToken != ""))

	if err := srv.Serve(cmd.Context(), purgeEvery); err != nil {
		return fmt.Errorf("serve-cache failed: %w", err)
	}
	util.InfoLog("cache proxy stopped")
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
