// Package cacheproxy serves the upstream API through a read-through SQLite
// response cache.
package cacheproxy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franz/mcsr-stats/internal/util"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultBind        = "127.0.0.1"
	DefaultPort        = 8787
	DefaultCacheDB     = "data/mcsr_cache_service.db"
	DefaultUpstream    = "https://mcsrranked.com"
	DefaultTimeout     = 6 * time.Second
	DefaultTTL         = 120 * time.Second
	DefaultAuthHeader  = "x-toolscreen-token"
	DefaultAPIKeyHdr   = "x-api-key"
	minUpstreamTimeout = 500 * time.Millisecond
	minDefaultTTL      = 5 * time.Second
)

// Config is fixed for the lifetime of a Server
type Config struct {
	Bind               string        `validate:"required"`
	Port               int           `validate:"min=1,max=65535"`
	CacheDB            string        `validate:"required"`
	Upstream           string        `validate:"required,url"`
	Timeout            time.Duration `validate:"min=500ms"`
	DefaultTTL         time.Duration `validate:"min=5s"`
	ForwardAPIKey      bool
	APIKey             string
	APIKeyHeader       string `validate:"required"`
	AuthToken          string
	AuthHeader         string `validate:"required"`
	PublicToken        string
	RateLimitPerMinute int `validate:"min=0"`
}

// DefaultConfig returns the settings used when no flag or env var is set
func DefaultConfig() Config {
	return Config{
		Bind:          DefaultBind,
		Port:          DefaultPort,
		CacheDB:       DefaultCacheDB,
		Upstream:      DefaultUpstream,
		Timeout:       DefaultTimeout,
		DefaultTTL:    DefaultTTL,
		ForwardAPIKey: true,
		APIKeyHeader:  DefaultAPIKeyHdr,
		AuthHeader:    DefaultAuthHeader,
	}
}

// Normalized trims tokens and headers, restores blank header names to their
// defaults and raises the timeout and TTL to their floors
func (c Config) Normalized() Config {
	c.Bind = strings.TrimSpace(c.Bind)
	c.Upstream = strings.TrimRight(strings.TrimSpace(c.Upstream), "/")
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.APIKeyHeader = strings.TrimSpace(c.APIKeyHeader)
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = DefaultAPIKeyHdr
	}
	c.AuthToken = strings.TrimSpace(c.AuthToken)
	c.AuthHeader = strings.TrimSpace(c.AuthHeader)
	if c.AuthHeader == "" {
		c.AuthHeader = DefaultAuthHeader
	}
	c.PublicToken = strings.TrimSpace(c.PublicToken)
	c.Timeout = max(c.Timeout, minUpstreamTimeout)
	c.DefaultTTL = max(c.DefaultTTL, minDefaultTTL)
	return c
}

// AuthEnabled reports whether any token is configured
func (c *Config) AuthEnabled() bool {
	return c.AuthToken != "" || c.PublicToken != ""
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds. Errors wrap util.ErrInvalidConfig.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", util.ErrInvalidConfig, strings.Join(msgs, "; "))
}
