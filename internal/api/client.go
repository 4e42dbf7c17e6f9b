package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/franz/mcsr-stats/internal/jsontree"
	"github.com/franz/mcsr-stats/internal/util"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the MCSR Ranked API host
	DefaultBaseURL = "https://mcsrranked.com"

	// UserAgent identifies this tool to the upstream
	UserAgent = "mcsr-stats/1.0 (+https://github.com/franz/mcsr-stats)"

	// MinRateLimitWait is the floor applied to Retry-After on HTTP 429
	MinRateLimitWait = 5 * time.Second

	// maxErrorBody bounds the response body echoed into errors
	maxErrorBody = 240
)

// Config configures a Client
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	APIKey       string
	APIKeyHeader string
	MinInterval  time.Duration // Minimum spacing between outbound requests
	MaxRetries   int           // Additional attempts on 429, 5xx and network errors
	UserAgent    string
}

// DefaultConfig returns the settings used by the CLI when nothing is overridden
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      10 * time.Second,
		APIKeyHeader: "x-api-key",
		MinInterval:  1300 * time.Millisecond,
		MaxRetries:   6,
		UserAgent:    UserAgent,
	}
}

// Client issues paced, retrying GET requests against the upstream API.
// A single limiter is shared by every call made through the client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	keyHeader  string
	userAgent  string
	limiter    *rate.Limiter
	retry      *util.RetryConfig

	// sleep is swapped out by tests to avoid real backoff delays
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new API client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.APIKeyHeader) == "" {
		cfg.APIKeyHeader = "x-api-key"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = UserAgent
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	retry := util.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		keyHeader:  strings.TrimSpace(cfg.APIKeyHeader),
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(limit, 1),
		retry:      retry,
		sleep:      util.Sleep,
	}
}

// BaseURL returns the upstream base URL without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get fetches path (which must start with "/") and returns the decoded document.
// Rate limiting and transient failures are retried; any other failure is returned
// as a *RequestError.
func (c *Client) Get(ctx context.Context, path string) (jsontree.Value, error) {
	endpoint := c.baseURL + path
	log := util.Logger().With().Str("endpoint", path).Logger()

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return jsontree.Value{}, &RequestError{Endpoint: path, Err: err}
		}

		status, header, body, err := c.do(ctx, endpoint)
		retriesLeft := attempt <= c.retry.MaxRetries

		if err != nil {
			if ctx.Err() != nil || !util.IsRetryableError(err) || !retriesLeft {
				return jsontree.Value{}, &RequestError{Endpoint: path, Err: err}
			}
			delay := c.retry.Backoff(attempt)
			log.Warn().Err(err).Dur("delay", delay).Int("attempt", attempt).
				Int("max_retries", c.retry.MaxRetries).Msg("network failure, retrying")
			if err := c.sleep(ctx, delay); err != nil {
				return jsontree.Value{}, &RequestError{Endpoint: path, Err: err}
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return decodeDocument(path, status, body)

		case status == http.StatusTooManyRequests:
			if !retriesLeft {
				return jsontree.Value{}, &RequestError{
					Endpoint: path,
					Status:   status,
					Body:     truncate(body),
					Err:      util.ErrRateLimited,
				}
			}
			delay := retryAfter(header)
			if delay < MinRateLimitWait {
				delay = MinRateLimitWait
			}
			log.Warn().Int("status", status).Dur("delay", delay).Int("attempt", attempt).
				Int("max_retries", c.retry.MaxRetries).Msg("rate limited, waiting")
			if err := c.sleep(ctx, delay); err != nil {
				return jsontree.Value{}, &RequestError{Endpoint: path, Status: status, Err: err}
			}

		case status >= 500 && status < 600:
			if !retriesLeft {
				return jsontree.Value{}, &RequestError{Endpoint: path, Status: status, Body: truncate(body)}
			}
			delay := c.retry.Backoff(attempt)
			log.Warn().Int("status", status).Dur("delay", delay).Int("attempt", attempt).
				Int("max_retries", c.retry.MaxRetries).Msg("server error, retrying")
			if err := c.sleep(ctx, delay); err != nil {
				return jsontree.Value{}, &RequestError{Endpoint: path, Status: status, Err: err}
			}

		default:
			reqErr := &RequestError{Endpoint: path, Status: status, Body: truncate(body)}
			if status == http.StatusNotFound {
				reqErr.Err = util.ErrNotFound
			}
			return jsontree.Value{}, reqErr
		}
	}
}

// do performs one HTTP exchange and reads the full body
func (c *Client) do(ctx context.Context, endpoint string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	util.DebugLog("GET %s -> %d (%d bytes)", endpoint, resp.StatusCode, len(body))
	return resp.StatusCode, resp.Header, body, nil
}

func decodeDocument(path string, status int, body []byte) (jsontree.Value, error) {
	doc, err := jsontree.Parse(body)
	if err != nil {
		return jsontree.Value{}, &RequestError{
			Endpoint: path,
			Status:   status,
			Body:     truncate(body),
			Err:      fmt.Errorf("%w: %v", util.ErrMalformedResponse, err),
		}
	}
	if !doc.IsObject() {
		return jsontree.Value{}, &RequestError{
			Endpoint: path,
			Status:   status,
			Body:     truncate(body),
			Err:      fmt.Errorf("%w: top-level %s, want object", util.ErrMalformedResponse, doc.Kind()),
		}
	}
	return doc, nil
}

// retryAfter parses a Retry-After header given in seconds; dates and junk read as 0
func retryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func truncate(body []byte) string {
	s := string(body)
	r := []rune(s)
	if len(r) > maxErrorBody {
		return string(r[:maxErrorBody])
	}
	return s
}

// Escape encodes one path segment, slashes included
func Escape(segment string) string {
	return url.PathEscape(strings.TrimSpace(segment))
}

// IsNotFound reports whether err is an upstream 404
func IsNotFound(err error) bool {
	return errors.Is(err, util.ErrNotFound)
}
