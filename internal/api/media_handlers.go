package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"videoflix/internal/media"
	"videoflix/internal/observability/logging"

	"github.com/gorilla/mux"
)

const (
	manifestContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"
	healthCheckTimeout  = 2 * time.Second
)

func writeNotFound(w http.ResponseWriter) {
	writeDetail(w, http.StatusNotFound, "Not found.")
}

// NotFound answers unmatched routes with the uniform 404 body.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeNotFound(w)
}

func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	h.serveHLS(w, r, media.ManifestName, manifestContentType)
}

func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	h.serveHLS(w, r, mux.Vars(r)["segment"], segmentContentType)
}

// serveHLS streams one file of a rendition. Every miss, whether the
// resolution is not allowed, the path escapes the root or the file is not
// there yet, is the same 404.
func (h *Handler) serveHLS(w http.ResponseWriter, r *http.Request, filename, contentType string) {
	vars := mux.Vars(r)
	videoID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeNotFound(w)
		return
	}
	resolution := strings.ToLower(vars["resolution"])
	if !h.policy.Allowed(resolution) {
		writeNotFound(w)
		return
	}
	full, err := h.resolver.Resolve(videoID, resolution, filename)
	if err != nil {
		logging.FromContext(logging.ContextWithVideoID(r.Context(), videoID), h.logger).
			Warn("rejected hls path", "resolution", resolution, "file", filename, "error", err)
		writeNotFound(w)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	if !serveRegularFile(w, r, full) {
		w.Header().Del("Content-Disposition")
		writeNotFound(w)
	}
}

// MediaFile serves thumbnails referenced by thumbnail_url.
func (h *Handler) MediaFile(w http.ResponseWriter, r *http.Request) {
	full, err := h.catalog.ThumbnailFile(mux.Vars(r)["path"])
	if err != nil {
		writeNotFound(w)
		return
	}
	if !serveRegularFile(w, r, full) {
		writeNotFound(w)
	}
}

// serveRegularFile reports false without writing anything when path is
// missing or a directory.
func serveRegularFile(w http.ResponseWriter, r *http.Request, path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
	return true
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components,omitempty"`
}

// Health reports ok when every configured dependency answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for _, check := range h.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.Check(ctx)
		cancel()
		status := componentStatus{Component: check.Name, Status: "ok"}
		if err != nil {
			status.Status = "error"
			status.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Components = append(resp.Components, status)
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
