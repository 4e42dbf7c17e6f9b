package cacheproxy

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/franz/mcsr-stats/internal/util"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

const (
	// ServiceName is reported by /health
	ServiceName = "mcsr-cache-proxy"

	upstreamUserAgent  = "mcsr-stats-cache/1.0"
	defaultContentType = "application/json; charset=utf-8"
	shutdownTimeout    = 5 * time.Second
)

var emptyUpstreamBody = []byte(`{"status":"error","data":{"error":"empty response"}}`)

// errorBody is the JSON shape of every response the proxy produces itself
type errorBody struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Path     string `json:"path,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Upstream string `json:"upstream,omitempty"`
}

type healthBody struct {
	OK       bool        `json:"ok"`
	Service  string      `json:"service"`
	Upstream string      `json:"upstream"`
	Cache    *CacheStats `json:"cache"`
	Epoch    int64       `json:"epoch"`
}

type upstreamResponse struct {
	status      int
	contentType string
	body        []byte
}

// fetchResult is shared between coalesced callers
type fetchResult struct {
	entry *Entry
	ttl   time.Duration
}

// Server is the read-through caching proxy
type Server struct {
	cfg     *Config
	cache   *Cache
	client  *http.Client
	flight  singleflight.Group
	breaker *gobreaker.CircuitBreaker[*upstreamResponse]
	router  chi.Router
}

// NewServer validates cfg and builds the router. cfg must not be modified
// afterwards.
func NewServer(cfg *Config, cache *Cache) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		cache:  cache,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	s.breaker = gobreaker.NewCircuitBreaker[*upstreamResponse](gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			util.WarnLog("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if s.cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(s.cfg.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited"}, nil)
			}),
		))
	}
	r.Use(s.authorize)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/*", s.handleAPI)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Path: r.URL.Path}, nil)
	})
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is cancelled
func (s *Server) Serve(ctx context.Context, purgeEvery time.Duration) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.ServeListener(ctx, ln, purgeEvery)
}

// ServeListener runs the HTTP server on ln together with the expired-entry
// purge loop. It returns after both have stopped.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener, purgeEvery time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var serveErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
		cancel()
	})
	wg.Go(func() {
		s.purgeLoop(ctx, purgeEvery)
	})
	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			util.WarnLog("Shutdown: %v", err)
		}
	})
	wg.Wait()

	return serveErr
}

func (s *Server) purgeLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.cache.Purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					util.WarnLog("Cache purge failed: %v", err)
				}
				continue
			}
			if n > 0 {
				cachePurgedTotal.Add(float64(n))
				util.DebugLog("Purged %d expired cache entries", n)
			}
		}
	}
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled() || s.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"},
			map[string]string{"WWW-Authenticate": "Bearer"})
	})
}

// authorized checks the auth header and a bearer token. The public token
// only opens /health.
func (s *Server) authorized(r *http.Request) bool {
	var candidates []string
	if v := strings.TrimSpace(r.Header.Get(s.cfg.AuthHeader)); v != "" {
		candidates = append(candidates, v)
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if bearer := strings.TrimSpace(auth[7:]); bearer != "" {
			candidates = append(candidates, bearer)
		}
	}

	for _, candidate := range candidates {
		if tokenEqual(candidate, s.cfg.AuthToken) {
			return true
		}
		if tokenEqual(candidate, s.cfg.PublicToken) && strings.HasPrefix(r.URL.Path, "/health") {
			return true
		}
	}
	return false
}

func tokenEqual(candidate, token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		util.WarnLog("%v", err)
		stats = &CacheStats{}
	}
	writeJSON(w, http.StatusOK, healthBody{
		OK:       true,
		Service:  ServiceName,
		Upstream: s.cfg.Upstream,
		Cache:    stats,
		Epoch:    time.Now().Unix(),
	}, nil)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}

	force := forceRefresh(r.URL.RawQuery)
	if !force {
		entry, err := s.cache.Get(r.Context(), key)
		if err != nil {
			util.WarnLog("%v", err)
		} else if entry != nil {
			proxyRequestsTotal.WithLabelValues(resultHit).Inc()
			writeEntry(w, entry, map[string]string{
				"X-Cache":         "HIT",
				"X-Cache-Fetched": strconv.FormatInt(entry.FetchedEpoch, 10),
			})
			return
		}
	}

	// Coalesced callers share the first caller's fetch, so it must not die
	// with that caller's connection
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.fetch(ctx, key, r.Header)
	})
	if err != nil {
		proxyRequestsTotal.WithLabelValues(resultError).Inc()
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:    "upstream_unreachable",
			Detail:   err.Error(),
			Upstream: s.cfg.Upstream + key,
		}, map[string]string{"X-Cache": "MISS"})
		return
	}

	res := v.(*fetchResult)
	if force {
		proxyRequestsTotal.WithLabelValues(resultRefresh).Inc()
	} else {
		proxyRequestsTotal.WithLabelValues(resultMiss).Inc()
	}
	writeEntry(w, res.entry, map[string]string{
		"X-Cache":     "MISS",
		"X-Cache-TTL": strconv.Itoa(int(res.ttl / time.Second)),
	})
}

// forceRefresh reports whether the raw query holds a literal refresh=1 or
// force=1 pair
func forceRefresh(rawQuery string) bool {
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "refresh=1" || pair == "force=1" {
			return true
		}
	}
	return false
}

// fetch calls the upstream and stores whatever status it answered with.
// Only transport failures are errors.
func (s *Server) fetch(ctx context.Context, key string, incoming http.Header) (*fetchResult, error) {
	resp, err := s.breaker.Execute(func() (*upstreamResponse, error) {
		return s.roundTrip(ctx, s.cfg.Upstream+key, incoming)
	})
	if err != nil {
		return nil, err
	}

	status, body := resp.status, resp.body
	if len(body) == 0 {
		body = emptyUpstreamBody
		if status == http.StatusOK {
			status = http.StatusBadGateway
		}
	}

	ttl := TTLFor(key, status, s.cfg.DefaultTTL)
	entry, err := s.cache.Put(ctx, key, status, resp.contentType, body, ttl)
	if err != nil {
		util.WarnLog("%v", err)
		entry = &Entry{StatusCode: status, ContentType: resp.contentType, Body: body}
	}
	return &fetchResult{entry: entry, ttl: ttl}, nil
}

func (s *Server) roundTrip(ctx context.Context, url string, incoming http.Header) (*upstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", upstreamUserAgent)

	if s.cfg.ForwardAPIKey {
		if key := strings.TrimSpace(incoming.Get("x-api-key")); key != "" {
			req.Header.Set("x-api-key", key)
		}
		if auth := strings.TrimSpace(incoming.Get("Authorization")); auth != "" {
			req.Header.Set("Authorization", auth)
		}
	}
	if s.cfg.APIKey != "" {
		req.Header.Set(s.cfg.APIKeyHeader, s.cfg.APIKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		upstreamDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	upstreamDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return &upstreamResponse{status: resp.StatusCode, contentType: contentType, body: body}, nil
}

func writeEntry(w http.ResponseWriter, e *Entry, headers map[string]string) {
	h := w.Header()
	h.Set("Content-Type", e.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	for k, v := range headers {
		h.Set(k, v)
	}
	w.WriteHeader(e.StatusCode)
	w.Write(e.Body)
}

func writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{"ok":false,"error":"encode_failed"}`)
	}
	h := w.Header()
	h.Set("Content-Type", defaultContentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	for k, v := range headers {
		h.Set(k, v)
	}
	w.WriteHeader(status)
	w.Write(body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		util.Logger().Info().
			Str("method", r.Method).
			Str("path", r.URL.RequestURI()).
			Int("status", ww.Status()).
			Str("cache", ww.Header().Get("X-Cache")).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
