package cacheproxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

type upstream struct {
	srv     *httptest.Server
	calls   atomic.Int32
	lastKey atomic.Value
	lastHdr atomic.Value
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		u.lastKey.Store(r.URL.RequestURI())
		u.lastHdr.Store(r.Header.Clone())
		handler(w, r)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func newTestServer(t *testing.T, upstreamURL string, mutate func(*Config)) (*Server, *Cache, *time.Time) {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	now := time.Unix(1_750_000_000, 0)
	cache.SetClock(func() time.Time { return now })

	cfg := DefaultConfig()
	cfg.Upstream = upstreamURL
	if mutate != nil {
		mutate(&cfg)
	}
	cfg = cfg.Normalized()

	s, err := NewServer(&cfg, cache)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s, cache, &now
}

func get(t *testing.T, h http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %q", rec.Body.String())
	}
	return out
}

func TestReadThrough(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"success","data":{"nickname":"Feinberg"}}`)
	})
	s, _, now := newTestServer(t, up.srv.URL, nil)
	h := s.Handler()

	rec := get(t, h, "/api/users/Feinberg", nil)
	if rec.Code != 200 || rec.Header().Get("X-Cache") != "MISS" || rec.Header().Get("X-Cache-TTL") != "120" {
		t.Fatalf("first request: %d %v", rec.Code, rec.Header())
	}
	if !strings.Contains(rec.Body.String(), "Feinberg") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = get(t, h, "/api/users/Feinberg", nil)
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second request should hit, got %v", rec.Header())
	}
	if rec.Header().Get("X-Cache-Fetched") != "1750000000" || rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unexpected hit headers: %v", rec.Header())
	}
	if up.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", up.calls.Load())
	}

	*now = now.Add(121 * time.Second)
	rec = get(t, h, "/api/users/Feinberg", nil)
	if rec.Header().Get("X-Cache") != "MISS" || up.calls.Load() != 2 {
		t.Errorf("expired entry should be refetched: %v, calls %d", rec.Header(), up.calls.Load())
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success","data":[]}`)
	})
	s, _, _ := newTestServer(t, up.srv.URL, nil)
	h := s.Handler()

	for i := 0; i < 2; i++ {
		rec := get(t, h, "/api/matches?page=1&refresh=1", nil)
		if rec.Header().Get("X-Cache") != "MISS" {
			t.Fatalf("refresh request %d should miss, got %v", i, rec.Header())
		}
	}
	if up.calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", up.calls.Load())
	}
	if key := up.lastKey.Load().(string); key != "/api/matches?page=1&refresh=1" {
		t.Errorf("upstream saw %q", key)
	}

	get(t, h, "/api/matches?page=1&refresh=1x", nil)
	rec := get(t, h, "/api/matches?page=1&refresh=1x", nil)
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("only literal refresh=1 bypasses the cache, got %v", rec.Header())
	}
}

func TestUpstreamErrorStatusIsCached(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"status":"error","data":null}`)
	})
	s, _, _ := newTestServer(t, up.srv.URL, nil)

	rec := get(t, s.Handler(), "/api/users/ghost", nil)
	if rec.Code != 404 || rec.Header().Get("X-Cache-TTL") != "25" {
		t.Fatalf("unexpected response: %d %v", rec.Code, rec.Header())
	}
	if rec.Header().Get("Content-Type") != defaultContentType {
		t.Errorf("missing upstream content type should default, got %q", rec.Header().Get("Content-Type"))
	}
	rec = get(t, s.Handler(), "/api/users/ghost", nil)
	if rec.Code != 404 || rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("404 should be served from cache: %d %v", rec.Code, rec.Header())
	}
}

func TestEmptyUpstreamBody(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	s, _, _ := newTestServer(t, up.srv.URL, nil)

	rec := get(t, s.Handler(), "/api/leaderboard", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("empty 200 should become 502, got %d", rec.Code)
	}
	if rec.Body.String() != string(emptyUpstreamBody) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestUpstreamUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	s, cache, _ := newTestServer(t, url, nil)
	rec := get(t, s.Handler(), "/api/leaderboard", nil)
	if rec.Code != http.StatusBadGateway || rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("unexpected response: %d %v", rec.Code, rec.Header())
	}
	body := decode(t, rec)
	if body["ok"] != false || body["error"] != "upstream_unreachable" || body["upstream"] != url+"/api/leaderboard" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["detail"] == "" {
		t.Error("expected an error detail")
	}

	stats, _ := cache.Stats(context.Background())
	if stats.EntryCount != 0 {
		t.Errorf("transport failures must not be cached, got %d entries", stats.EntryCount)
	}
}

func TestHeaderForwarding(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	s, _, _ := newTestServer(t, up.srv.URL, nil)

	get(t, s.Handler(), "/api/users/a", map[string]string{"x-api-key": "client-key", "Authorization": "Bearer abc"})
	hdr := up.lastHdr.Load().(http.Header)
	if hdr.Get("x-api-key") != "client-key" || hdr.Get("Authorization") != "Bearer abc" {
		t.Errorf("client headers not forwarded: %v", hdr)
	}
	if hdr.Get("Accept") != "application/json" || hdr.Get("User-Agent") != upstreamUserAgent {
		t.Errorf("missing default headers: %v", hdr)
	}

	s, _, _ = newTestServer(t, up.srv.URL, func(c *Config) {
		c.ForwardAPIKey = false
		c.APIKey = "server-key"
		c.APIKeyHeader = "x-custom-key"
	})
	get(t, s.Handler(), "/api/users/b", map[string]string{"x-api-key": "client-key"})
	hdr = up.lastHdr.Load().(http.Header)
	if hdr.Get("x-api-key") != "" {
		t.Errorf("forwarding disabled but got x-api-key %q", hdr.Get("x-api-key"))
	}
	if hdr.Get("x-custom-key") != "server-key" {
		t.Errorf("configured key not injected: %v", hdr)
	}
}

func TestAuth(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	s, _, _ := newTestServer(t, up.srv.URL, func(c *Config) {
		c.AuthToken = "secret"
		c.PublicToken = "public"
	})
	h := s.Handler()

	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    int
	}{
		{"no token", "/health", nil, 401},
		{"wrong token", "/api/leaderboard", map[string]string{"x-toolscreen-token": "nope"}, 401},
		{"auth header", "/api/leaderboard", map[string]string{"x-toolscreen-token": "secret"}, 200},
		{"bearer", "/api/leaderboard", map[string]string{"Authorization": "bearer secret"}, 200},
		{"public token on health", "/health", map[string]string{"Authorization": "Bearer public"}, 200},
		{"public token on api", "/api/leaderboard", map[string]string{"x-toolscreen-token": "public"}, 401},
		{"unknown path is authorized first", "/nope", nil, 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target, tt.headers)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == 401 {
				if rec.Header().Get("WWW-Authenticate") != "Bearer" {
					t.Errorf("missing WWW-Authenticate header")
				}
				if body := decode(t, rec); body["error"] != "unauthorized" {
					t.Errorf("unexpected body: %v", body)
				}
			}
		})
	}
}

func TestHealthAndNotFound(t *testing.T) {
	s, cache, _ := newTestServer(t, "http://upstream.test", nil)
	cache.Put(context.Background(), "/api/leaderboard", 200, "application/json", []byte("{}"), time.Minute)
	h := s.Handler()

	rec := get(t, h, "/health", nil)
	if rec.Code != 200 || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("unexpected health response: %d %v", rec.Code, rec.Header())
	}
	body := decode(t, rec)
	if body["ok"] != true || body["service"] != ServiceName || body["upstream"] != "http://upstream.test" {
		t.Errorf("unexpected health body: %v", body)
	}
	stats, _ := body["cache"].(map[string]any)
	if stats["entry_count"] != float64(1) || stats["max_fetched_epoch"] != float64(1_750_000_000) {
		t.Errorf("unexpected cache stats: %v", stats)
	}

	rec = get(t, h, "/elsewhere", nil)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "not_found" || body["path"] != "/elsewhere" {
		t.Errorf("unexpected not-found body: %v", body)
	}

	rec = get(t, h, "/metrics", nil)
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics endpoint not served: %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _, _ := newTestServer(t, "http://upstream.test", func(c *Config) {
		c.RateLimitPerMinute = 1
	})
	h := s.Handler()

	if rec := get(t, h, "/health", nil); rec.Code != 200 {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := get(t, h, "/health", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "rate_limited" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t, "http://upstream.test", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln, 10*time.Millisecond) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeListener returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
