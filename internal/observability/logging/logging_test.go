package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewFormatsAndLevels(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantJSON  bool
		wantDebug bool
	}{
		{name: "defaults to json at info", cfg: Config{}, wantJSON: true},
		{name: "text format", cfg: Config{Format: "text"}},
		{name: "upper case text", cfg: Config{Format: " TEXT "}},
		{name: "debug level", cfg: Config{Level: "debug"}, wantJSON: true, wantDebug: true},
		{name: "mixed case debug", cfg: Config{Level: " DeBuG "}, wantJSON: true, wantDebug: true},
		{name: "warning drops info", cfg: Config{Level: "warning"}, wantJSON: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			tc.cfg.Writer = &buf
			logger := New(tc.cfg)
			logger.Debug("transcode queued", "resolution", "720p")
			logger.Error("transcode failed", "resolution", "720p")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			wantLines := 1
			if tc.wantDebug {
				wantLines = 2
			}
			if len(lines) != wantLines {
				t.Fatalf("expected %d log lines, got %d: %q", wantLines, len(lines), buf.String())
			}
			last := lines[len(lines)-1]
			var payload map[string]any
			isJSON := json.Unmarshal([]byte(last), &payload) == nil
			if isJSON != tc.wantJSON {
				t.Fatalf("expected json=%v, got line %q", tc.wantJSON, last)
			}
			if !strings.Contains(last, "720p") {
				t.Fatalf("expected attribute in output, got %q", last)
			}
		})
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	for _, input := range []string{"", "info", "verbose"} {
		if got := parseLevel(input).Level(); got != slog.LevelInfo {
			t.Fatalf("parseLevel(%q) = %v, want info", input, got)
		}
	}
	if got := parseLevel("error").Level(); got != slog.LevelError {
		t.Fatalf("expected error level, got %v", got)
	}
}

func TestDiscardIsUsable(t *testing.T) {
	logger := Discard()
	if logger == nil {
		t.Fatal("expected a logger")
	}
	logger.Error("dropped", "video_id", 1)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	WithComponent(slog.New(slog.NewJSONHandler(&buf, nil)), "worker").Info("pool started")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if payload["component"] != "worker" {
		t.Fatalf("expected component worker, got %v", payload["component"])
	}
	if WithComponent(nil, "worker") != nil {
		t.Fatal("expected nil logger to stay nil")
	}
}

func TestContextWithRequestAndVideoIDs(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-123")
	ctx = ContextWithVideoID(ctx, 42)

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-123" {
		t.Fatalf("expected request id req-123, got %q", id)
	}
	if id, ok := VideoIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("expected video id 42, got %d", id)
	}
}

func TestContextIgnoresEmptyIDs(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithRequestID(ctx, "   "); got != ctx {
		t.Fatalf("expected blank request id to leave context untouched")
	}
	if got := ContextWithVideoID(ctx, 0); got != ctx {
		t.Fatalf("expected zero video id to leave context untouched")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithVideoID(ctx, 7)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithContext(ctx, logger).Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}

	if payload["request_id"] != "req-1" {
		t.Fatalf("expected request_id to be set, got %v", payload["request_id"])
	}
	if payload["video_id"] != float64(7) {
		t.Fatalf("expected video_id to be set, got %v", payload["video_id"])
	}
}

func TestFromContextPrefersStoredLogger(t *testing.T) {
	var stored, base bytes.Buffer
	storedLogger := slog.New(slog.NewJSONHandler(&stored, nil))
	baseLogger := slog.New(slog.NewJSONHandler(&base, nil))

	ctx := ContextWithLogger(context.Background(), storedLogger)
	FromContext(ctx, baseLogger).Info("routed")

	if stored.Len() == 0 {
		t.Fatalf("expected stored logger to receive the record")
	}
	if base.Len() != 0 {
		t.Fatalf("expected base logger to stay empty, got %q", base.String())
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Init(Config{Writer: &buf, Format: string(FormatText), Level: "debug"})
	if logger != slog.Default() {
		t.Fatalf("expected Init to replace the default logger")
	}

	slog.Info("hello world")

	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected text output to include message, got %q", buf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger})

	req := httptest.NewRequest(http.MethodPost, "/api/login/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	recorder := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(recorder, req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}

	if payload["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status %d, got %v", http.StatusAccepted, payload["status"])
	}
	if payload["remote_addr"] != "127.0.0.1:1234" {
		t.Fatalf("expected remote_addr to be recorded, got %v", payload["remote_addr"])
	}
	if payload["path"] != "/api/login/" {
		t.Fatalf("expected path to be logged, got %v", payload["path"])
	}
}

func TestRequestLoggerEscalatesServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger, DisableRemoteAddr: true})

	req := httptest.NewRequest(http.MethodGet, "/api/video/", nil)
	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})).ServeHTTP(httptest.NewRecorder(), req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if payload["level"] != "ERROR" {
		t.Fatalf("expected ERROR level, got %v", payload["level"])
	}
	if _, ok := payload["remote_addr"]; ok {
		t.Fatalf("expected remote_addr to be omitted")
	}
}
