package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"videoflix/internal/auth"
	"videoflix/internal/config"
	"videoflix/internal/jobs"
	"videoflix/internal/mail"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Mode:            config.ModeDevelopment,
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: 5 * time.Second,
		Log:             config.LogConfig{Level: "info", Format: "json"},
		Storage: config.StorageConfig{
			Driver:   config.StorageJSON,
			DataPath: filepath.Join(dir, "store.json"),
		},
		Media: config.MediaConfig{
			Root:        filepath.Join(dir, "media"),
			HLSRoot:     filepath.Join(dir, "media", "hls"),
			Resolutions: []string{"360p", "720p"},
			FFmpegPath:  "ffmpeg",
		},
		Queue:   config.QueueConfig{Driver: config.QueueMemory, Buffer: 8},
		Workers: config.WorkerConfig{Count: 1},
		Auth: config.AuthConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
			TokenTimeout:  time.Hour,
			CookieSecure:  true,
			PurgeInterval: time.Hour,
		},
		Frontend: config.FrontendConfig{
			URL:          "http://localhost:3000",
			ActivatePath: "/verify-email",
			ResetPath:    "/reset-password",
		},
		Mail:      config.MailConfig{From: "no-reply@videoflix.local", SMTPPort: 587},
		RateLimit: config.RateLimitConfig{LoginLimit: 5, LoginWindow: time.Minute},
	}
}

func TestOpenRepositoryJSON(t *testing.T) {
	cfg := testConfig(t)
	repo, err := openRepository(context.Background(), cfg.Storage)
	if err != nil {
		t.Fatalf("openRepository returned error: %v", err)
	}
	if _, ok := repo.(*storage.Storage); !ok {
		t.Fatalf("expected JSON storage, got %T", repo)
	}

	if _, err := openRepository(context.Background(), config.StorageConfig{Driver: "sqlite"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestOpenBlacklistMemoryForJSONStore(t *testing.T) {
	blacklist, err := openBlacklist(context.Background(), config.StorageConfig{Driver: config.StorageJSON})
	if err != nil {
		t.Fatalf("openBlacklist returned error: %v", err)
	}
	if _, ok := blacklist.(*auth.MemoryBlacklist); !ok {
		t.Fatalf("expected memory blacklist, got %T", blacklist)
	}
}

func TestOpenQueue(t *testing.T) {
	queue, err := openQueue(context.Background(), config.QueueConfig{Driver: config.QueueMemory, Buffer: 4}, discardLogger())
	if err != nil {
		t.Fatalf("openQueue returned error: %v", err)
	}
	if _, ok := queue.(*jobs.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", queue)
	}
	_ = queue.Close()

	if _, err := openQueue(context.Background(), config.QueueConfig{Driver: config.QueueRedis}, discardLogger()); err == nil {
		t.Fatal("expected redis queue without addr to fail")
	}
}

func TestNewMailSender(t *testing.T) {
	if _, ok := newMailSender(config.MailConfig{From: "no-reply@videoflix.local"}, discardLogger()).(mail.LogSender); !ok {
		t.Fatal("expected log sender without smtp host")
	}
	sender := newMailSender(config.MailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, From: "no-reply@videoflix.local"}, discardLogger())
	multi, ok := sender.(mail.MultiSender)
	if !ok {
		t.Fatalf("expected multi sender, got %T", sender)
	}
	if len(multi.Senders) != 2 {
		t.Fatalf("expected relay plus log fallback, got %d senders", len(multi.Senders))
	}
}

func TestBuildWiresHandler(t *testing.T) {
	cfg := testConfig(t)
	a, err := build(context.Background(), cfg, discardLogger(), metrics.New())
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	defer a.close(time.Second, discardLogger())

	if a.pool == nil {
		t.Fatal("expected embedded worker pool")
	}

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status     string `json:"status"`
		Components []struct {
			Component string `json:"component"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" || len(body.Components) != 2 {
		t.Fatalf("unexpected health response %+v", body)
	}

	rec = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/video/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous catalog request, got %d", rec.Code)
	}
}

func TestBuildWithoutWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers.Count = 0
	a, err := build(context.Background(), cfg, discardLogger(), metrics.New())
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	defer a.close(time.Second, discardLogger())
	if a.pool != nil {
		t.Fatal("expected no embedded pool when workers is zero")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, discardLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}
