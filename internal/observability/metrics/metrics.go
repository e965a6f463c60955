package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TranscodeLabel identifies a transcode job event by target resolution and
// lifecycle status (start, complete, fail).
type TranscodeLabel struct {
	Resolution string
	Status     string
}

// EmailLabel identifies an outbound email by template kind and delivery
// status (sent, failed).
type EmailLabel struct {
	Kind   string
	Status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// transcode jobs, queue traffic, outbound email and authentication events.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	transcodeEvents  map[TranscodeLabel]uint64
	transcodeSeconds map[string]time.Duration
	queueEnqueued    map[string]uint64
	emailEvents      map[EmailLabel]uint64
	authEvents       map[string]uint64
	activeTranscodes atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder ready for use.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		transcodeEvents:  make(map[TranscodeLabel]uint64),
		transcodeSeconds: make(map[string]time.Duration),
		queueEnqueued:    make(map[string]uint64),
		emailEvents:      make(map[EmailLabel]uint64),
		authEvents:       make(map[string]uint64),
	}
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and duration by method, normalized
// path and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// TranscodeStarted records the start of a job and increments the active gauge.
func (r *Recorder) TranscodeStarted(resolution string) {
	r.recordTranscode(resolution, "start")
	r.activeTranscodes.Add(1)
}

// TranscodeCompleted records a successful job and its wall-clock duration.
func (r *Recorder) TranscodeCompleted(resolution string, elapsed time.Duration) {
	r.recordTranscode(resolution, "complete")
	r.mu.Lock()
	r.transcodeSeconds[normalizeName(resolution)] += elapsed
	r.mu.Unlock()
	r.decrementGauge(&r.activeTranscodes)
}

// TranscodeFailed records a failed job. The gauge never drops below zero.
func (r *Recorder) TranscodeFailed(resolution string) {
	r.recordTranscode(resolution, "fail")
	r.decrementGauge(&r.activeTranscodes)
}

func (r *Recorder) recordTranscode(resolution, status string) {
	label := TranscodeLabel{
		Resolution: normalizeName(resolution),
		Status:     normalizeName(status),
	}
	r.mu.Lock()
	r.transcodeEvents[label]++
	r.mu.Unlock()
}

// ObserveEnqueue counts a job placed on the named queue driver.
func (r *Recorder) ObserveEnqueue(driver string) {
	r.mu.Lock()
	r.queueEnqueued[normalizeName(driver)]++
	r.mu.Unlock()
}

// ObserveEmail counts an outbound email attempt.
func (r *Recorder) ObserveEmail(kind string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	label := EmailLabel{Kind: normalizeName(kind), Status: status}
	r.mu.Lock()
	r.emailEvents[label]++
	r.mu.Unlock()
}

// ObserveAuth counts an authentication event such as "login", "login_failed",
// "refresh" or "logout".
func (r *Recorder) ObserveAuth(event string) {
	r.mu.Lock()
	r.authEvents[normalizeName(event)]++
	r.mu.Unlock()
}

// ActiveTranscodes exposes the number of jobs currently running.
func (r *Recorder) ActiveTranscodes() int64 {
	return r.activeTranscodes.Load()
}

// TranscodeCounts returns a copy of the transcode event counters and the
// active gauge.
func (r *Recorder) TranscodeCounts() (map[TranscodeLabel]uint64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[TranscodeLabel]uint64, len(r.transcodeEvents))
	for k, v := range r.transcodeEvents {
		events[k] = v
	}
	return events, r.activeTranscodes.Load()
}

// EmailCounts returns a copy of the email counters.
func (r *Recorder) EmailCounts() map[EmailLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[EmailLabel]uint64, len(r.emailEvents))
	for k, v := range r.emailEvents {
		out[k] = v
	}
	return out
}

// AuthCount returns the number of times the named auth event was observed.
func (r *Recorder) AuthCount(event string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authEvents[normalizeName(event)]
}

// EnqueueCount returns the number of jobs enqueued on the named driver.
func (r *Recorder) EnqueueCount(driver string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queueEnqueued[normalizeName(driver)]
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.transcodeEvents = make(map[TranscodeLabel]uint64)
	r.transcodeSeconds = make(map[string]time.Duration)
	r.queueEnqueued = make(map[string]uint64)
	r.emailEvents = make(map[EmailLabel]uint64)
	r.authEvents = make(map[string]uint64)
	r.activeTranscodes.Store(0)
}

// Handler exposes the Recorder as Prometheus text exposition.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with label sets sorted
// for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()

	fmt.Fprintln(w, "# HELP videoflix_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE videoflix_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videoflix_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE videoflix_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "videoflix_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP videoflix_transcode_jobs_total Transcode job events by resolution and status")
	fmt.Fprintln(w, "# TYPE videoflix_transcode_jobs_total counter")
	transcodeLabels := make([]TranscodeLabel, 0, len(r.transcodeEvents))
	for label := range r.transcodeEvents {
		transcodeLabels = append(transcodeLabels, label)
	}
	sort.Slice(transcodeLabels, func(i, j int) bool {
		if transcodeLabels[i].Resolution != transcodeLabels[j].Resolution {
			return transcodeLabels[i].Resolution < transcodeLabels[j].Resolution
		}
		return transcodeLabels[i].Status < transcodeLabels[j].Status
	})
	for _, label := range transcodeLabels {
		fmt.Fprintf(w, "videoflix_transcode_jobs_total{resolution=\"%s\",status=\"%s\"} %d\n", label.Resolution, label.Status, r.transcodeEvents[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_transcode_duration_seconds_sum Cumulative duration of successful transcode jobs")
	fmt.Fprintln(w, "# TYPE videoflix_transcode_duration_seconds_sum counter")
	for _, resolution := range sortedKeys(r.transcodeSeconds) {
		fmt.Fprintf(w, "videoflix_transcode_duration_seconds_sum{resolution=\"%s\"} %f\n", resolution, r.transcodeSeconds[resolution].Seconds())
	}

	fmt.Fprintln(w, "# HELP videoflix_transcode_active_jobs Current number of running transcode jobs")
	fmt.Fprintln(w, "# TYPE videoflix_transcode_active_jobs gauge")
	fmt.Fprintf(w, "videoflix_transcode_active_jobs %d\n", r.activeTranscodes.Load())

	fmt.Fprintln(w, "# HELP videoflix_queue_enqueued_total Jobs enqueued by queue driver")
	fmt.Fprintln(w, "# TYPE videoflix_queue_enqueued_total counter")
	for _, driver := range sortedKeys(r.queueEnqueued) {
		fmt.Fprintf(w, "videoflix_queue_enqueued_total{driver=\"%s\"} %d\n", driver, r.queueEnqueued[driver])
	}

	fmt.Fprintln(w, "# HELP videoflix_emails_total Outbound emails by kind and status")
	fmt.Fprintln(w, "# TYPE videoflix_emails_total counter")
	emailLabels := make([]EmailLabel, 0, len(r.emailEvents))
	for label := range r.emailEvents {
		emailLabels = append(emailLabels, label)
	}
	sort.Slice(emailLabels, func(i, j int) bool {
		if emailLabels[i].Kind != emailLabels[j].Kind {
			return emailLabels[i].Kind < emailLabels[j].Kind
		}
		return emailLabels[i].Status < emailLabels[j].Status
	})
	for _, label := range emailLabels {
		fmt.Fprintf(w, "videoflix_emails_total{kind=\"%s\",status=\"%s\"} %d\n", label.Kind, label.Status, r.emailEvents[label])
	}

	fmt.Fprintln(w, "# HELP videoflix_auth_events_total Authentication events by type")
	fmt.Fprintln(w, "# TYPE videoflix_auth_events_total counter")
	for _, event := range sortedKeys(r.authEvents) {
		fmt.Fprintf(w, "videoflix_auth_events_total{event=\"%s\"} %d\n", event, r.authEvents[event])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses identifiers and token-like segments so that
// per-video and per-token routes share one label set.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if strings.HasSuffix(segment, ".ts") {
		return true
	}
	if len(segment) >= 16 {
		return true
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
