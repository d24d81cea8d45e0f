package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cratedocs/proxy/internal/cache"
	"github.com/cratedocs/proxy/internal/config"
	"github.com/cratedocs/proxy/internal/docs"
	"github.com/cratedocs/proxy/internal/errors"
	"github.com/cratedocs/proxy/internal/fetch"
	"github.com/cratedocs/proxy/internal/metrics"
)

type stubFetcher func(url string) (*fetch.Response, error)

func (f stubFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Response, error) {
	return f(rawURL)
}

const searchBody = `{"crates":[{"id":"serde","name":"serde","newest_version":"1.0.219","description":"serialization","downloads":5,"updated_at":"2025-01-01T00:00:00Z"}],"meta":{"total":1}}`
const metadataBody = `{"crate":{"id":"serde","name":"serde","downloads":100,"max_version":"1.0.219","created_at":"2015-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"},"versions":[{"num":"1.0.219","yanked":false,"downloads":10,"license":"MIT","created_at":"2025-01-01T00:00:00Z"}]}`
const depsBody = `{"dependencies":[]}`

func upstream(url string) (*fetch.Response, error) {
	switch {
	case strings.Contains(url, "/api/v1/crates?"):
		return &fetch.Response{StatusCode: 200, Body: []byte(searchBody)}, nil
	case strings.HasSuffix(url, "/dependencies"):
		return &fetch.Response{StatusCode: 200, Body: []byte(depsBody)}, nil
	case strings.Contains(url, "/api/v1/crates/"):
		return &fetch.Response{StatusCode: 200, Body: []byte(metadataBody)}, nil
	default:
		return nil, errors.New(errors.KindNotFound, "no such resource").WithTarget(url)
	}
}

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	disk, err := cache.NewDisk(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	tc := cache.NewTiered(cache.NewMemory(100, 1<<20), disk, map[cache.Op]time.Duration{
		cache.OpSearch:   5 * time.Minute,
		cache.OpMetadata: 6 * time.Hour,
	}, nil)

	cfg := config.DefaultConfig()
	svc := docs.NewService(tc, stubFetcher(upstream), cfg.Upstreams, cfg.Limits)
	m := metrics.New(tc)
	return New(cfg.Server, svc, m), m
}

func do(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/search?q=serde&limit=5", "")
	if rec.Code != 200 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}

	var result struct {
		Crates []struct{ Name string } `json:"crates"`
		Total  int                     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if result.Total != 1 || len(result.Crates) != 1 || result.Crates[0].Name != "serde" {
		t.Errorf("unexpected body: %s", rec.Body)
	}
}

func TestSearchEndpointMissingQuery(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "invalid_request" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/crates/serde?version=latest", "")
	if rec.Code != 200 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var meta struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	json.Unmarshal(rec.Body.Bytes(), &meta)
	if meta.Name != "serde" || meta.Version != "1.0.219" {
		t.Errorf("unexpected body: %s", rec.Body)
	}
}

func TestNotFoundMapsTo404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/crates/serde/docs", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestCacheAdminEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	// populate the cache
	if rec := do(t, s, "GET", "/api/v1/search?q=serde", ""); rec.Code != 200 {
		t.Fatalf("seed request failed: %d", rec.Code)
	}

	rec := do(t, s, "GET", "/admin/cache/stats", "")
	if rec.Code != 200 {
		t.Fatalf("stats status %d", rec.Code)
	}
	var stats struct {
		Misses            int64 `json:"misses"`
		CurrentEntryCount int   `json:"current_entry_count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.Misses != 1 || stats.CurrentEntryCount != 1 {
		t.Errorf("unexpected stats: %s", rec.Body)
	}

	rec = do(t, s, "POST", "/admin/cache/clear", "")
	if rec.Code != 200 {
		t.Fatalf("clear status %d", rec.Code)
	}
	rec = do(t, s, "GET", "/admin/cache/stats", "")
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.CurrentEntryCount != 0 {
		t.Errorf("cache not cleared: %s", rec.Body)
	}

	rec = do(t, s, "POST", "/admin/cache/maintenance", "")
	if rec.Code != 200 {
		t.Fatalf("maintenance status %d", rec.Code)
	}
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	do(t, s, "GET", "/api/v1/crates/serde", "")

	rec := do(t, s, "POST", "/admin/cache/invalidate", `{"op":"metadata","crate":"serde","version":"latest"}`)
	if rec.Code != 200 {
		t.Fatalf("invalidate status %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, s, "GET", "/admin/cache/stats", "")
	var stats struct {
		CurrentEntryCount int `json:"current_entry_count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.CurrentEntryCount != 0 {
		t.Errorf("entry not invalidated: %s", rec.Body)
	}
}

func TestCacheInvalidateRejectsUnknownOp(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "POST", "/admin/cache/invalidate", `{"op":"everything"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(t, s, "GET", "/health", ""); rec.Code != 200 {
		t.Fatalf("health status %d", rec.Code)
	}

	do(t, s, "GET", "/api/v1/search?q=serde", "")
	rec := do(t, s, "GET", "/metrics", "")
	if rec.Code != 200 {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cratedocs_http_requests_total") {
		t.Error("request counter missing from scrape")
	}
}

func TestGracefulShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	s.http.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
