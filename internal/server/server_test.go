package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"videoflix/internal/api"
	"videoflix/internal/auth"
	"videoflix/internal/catalog"
	"videoflix/internal/jobs"
	"videoflix/internal/media"
	"videoflix/internal/models"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/storage"
)

type nopMailer struct{}

func (nopMailer) SendActivation(context.Context, models.User, string, string)    {}
func (nopMailer) SendPasswordReset(context.Context, models.User, string, string) {}

func newTestHandler(t *testing.T) (*api.Handler, *storage.Storage) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewJSONRepository(filepath.Join(root, "store.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{Secret: "server-test"})
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}
	policy := media.NewPolicy(nil)
	dispatcher, err := jobs.NewDispatcher(jobs.DispatcherConfig{Queue: jobs.NewMemoryQueue(4), Policy: policy, MediaRoot: root, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewDispatcher returned error: %v", err)
	}
	svc, err := catalog.NewService(catalog.Config{Repository: store, Dispatcher: dispatcher, MediaRoot: root, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("catalog.NewService returned error: %v", err)
	}
	resolver, err := media.NewResolver(filepath.Join(root, "hls"))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	handler, err := api.NewHandler(api.HandlerConfig{
		Store:    store,
		Tokens:   tokens,
		OneTime:  auth.NewOneTimeTokens("server-test", 0),
		Mailer:   nopMailer{},
		Catalog:  svc,
		Policy:   policy,
		Resolver: resolver,
		Logger:   logging.Discard(),
		Metrics:  metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewHandler returned error: %v", err)
	}
	return handler, store
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	handler, _ := newTestHandler(t)
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestNewRejectsMalformedOrigin(t *testing.T) {
	handler, _ := newTestHandler(t)
	if _, err := New(handler, Config{CORS: CORSConfig{AllowedOrigins: []string{"localhost:3000"}}}); err == nil {
		t.Fatal("expected error for origin without scheme")
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	recorder := metrics.New()
	srv := newTestServer(t, Config{Metrics: recorder})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/healthz") {
		t.Fatalf("expected metrics to include the health request, got %q", rec.Body.String())
	}
}

func TestMethodNotAllowedListsAllowedMethods(t *testing.T) {
	srv := newTestServer(t, Config{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/login/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != "POST, OPTIONS" {
		t.Fatalf("expected Allow header %q, got %q", "POST, OPTIONS", got)
	}
	if !strings.Contains(rec.Body.String(), `"detail"`) {
		t.Fatalf("expected JSON detail body, got %q", rec.Body.String())
	}
}

func TestMethodNotAllowedOnProtectedRoutes(t *testing.T) {
	srv := newTestServer(t, Config{})
	tests := []struct {
		method string
		target string
		allow  string
	}{
		{http.MethodDelete, "/api/video/", "GET, POST, OPTIONS"},
		{http.MethodPost, "/api/video/7/", "DELETE, OPTIONS"},
		{http.MethodPut, "/api/video/7/720p/index.m3u8", "GET, HEAD, OPTIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := serve(srv, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("expected 405, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("Allow"); got != tt.allow {
				t.Fatalf("expected Allow header %q, got %q", tt.allow, got)
			}
		})
	}
}

func TestDotSegmentsAreNotRedirected(t *testing.T) {
	srv := newTestServer(t, Config{})
	for _, target := range []string{
		"/api/video/7/720p/../../index.m3u8/",
		"/api/video/7/720p/..%2F..%2Findex.m3u8/",
		"/media/../store.json",
	} {
		t.Run(target, func(t *testing.T) {
			rec := serve(srv, httptest.NewRequest(http.MethodGet, target, nil))
			if rec.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d (Location %q)", rec.Code, rec.Header().Get("Location"))
			}
			if strings.TrimSpace(rec.Body.String()) != `{"detail":"Not found."}` {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestUnknownPathReturnsJSONNotFound(t *testing.T) {
	srv := newTestServer(t, Config{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/nothing-here", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"detail":"Not found."}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestVideoRoutesRequireCookieThroughChain(t *testing.T) {
	srv := newTestServer(t, Config{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/video/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t, Config{Security: SecurityConfig{FrameOptions: "SAMEORIGIN"}})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	expected := map[string]string{
		"Content-Security-Policy":    "default-src 'none'; frame-ancestors 'none'",
		"X-Frame-Options":            "SAMEORIGIN",
		"X-Content-Type-Options":     "nosniff",
		"Referrer-Policy":            "same-origin",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("expected %s %q, got %q", header, want, got)
		}
	}
}

func TestCORSAllowsConfiguredOriginWithCredentials(t *testing.T) {
	srv := newTestServer(t, Config{CORS: CORSConfig{AllowedOrigins: []string{"https://App.Videoflix.test/"}}})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/login/", nil)
		req.Header.Set("Origin", "https://app.videoflix.test")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := serve(srv, req)
		if rec.Code != http.StatusNoContent && rec.Code != http.StatusOK {
			t.Fatalf("expected preflight success, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.videoflix.test" {
			t.Fatalf("expected allow origin header, got %q", got)
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Fatal("expected credentials to be allowed")
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.test")
		rec := serve(srv, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("expected no allow origin header, got %q", got)
		}
	})
}

func TestRequestIDMiddlewareAnnotatesContextAndHeaders(t *testing.T) {
	t.Parallel()

	handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := logging.RequestIDFromContext(r.Context())
		if requestID != "incoming" {
			t.Fatalf("expected request id to be preserved, got %q", requestID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "incoming")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") != "incoming" {
		t.Fatalf("expected response header to carry request id, got %q", rr.Header().Get("X-Request-Id"))
	}
}

func TestRequestLoggingCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler, _ := newTestHandler(t)
	srv, err := New(handler, Config{Logger: logger, Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	serve(srv, req)

	var payload map[string]any
	line := bytes.TrimSpace(buf.Bytes())
	if idx := bytes.LastIndexByte(line, '\n'); idx >= 0 {
		line = line[idx+1:]
	}
	if err := json.Unmarshal(line, &payload); err != nil {
		t.Fatalf("failed to unmarshal log line %q: %v", line, err)
	}
	if payload["msg"] != "request completed" || payload["request_id"] != "req-123" {
		t.Fatalf("unexpected log line %v", payload)
	}
	if payload["remote_ip"] != "203.0.113.9" {
		t.Fatalf("expected forwarded client ip, got %v", payload["remote_ip"])
	}
}

func TestAuditLogsMutatingAPIRequests(t *testing.T) {
	var buf bytes.Buffer
	audit := slog.New(slog.NewJSONHandler(&buf, nil))
	srv := newTestServer(t, Config{AuditLogger: audit})

	serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected no audit entry for GET, got %q", buf.String())
	}
	serve(srv, httptest.NewRequest(http.MethodPost, "/api/logout/", nil))
	if !strings.Contains(buf.String(), `"path":"/api/logout/"`) || !strings.Contains(buf.String(), `"status":400`) {
		t.Fatalf("expected audit entry for logout, got %q", buf.String())
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, time.Second, func(addr net.Addr) { addrs <- addr })
	}()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("Run returned before ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET returned error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("unexpected response %d with request id %q", resp.StatusCode, resp.Header.Get("X-Request-Id"))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
