package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"videoflix/internal/media"
	"videoflix/internal/models"
	"videoflix/internal/observability/metrics"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Queue     Queue
	Policy    *media.Policy
	MediaRoot string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Dispatcher reacts to catalog changes: new videos get one transcode job per
// allowed resolution, deleted videos lose their source file.
type Dispatcher struct {
	queue     Queue
	policy    *media.Policy
	mediaRoot string
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("resolution policy is required")
	}
	root, err := filepath.Abs(strings.TrimSpace(cfg.MediaRoot))
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Dispatcher{
		queue:     cfg.Queue,
		policy:    cfg.Policy,
		mediaRoot: filepath.Clean(root),
		logger:    logger,
		metrics:   recorder,
	}, nil
}

// VideoCreated enqueues a job for every allowed resolution. Videos without a
// source file are skipped. Jobs enqueued before a failure are returned with
// the error.
func (d *Dispatcher) VideoCreated(ctx context.Context, video models.Video) ([]TranscodeJob, error) {
	if strings.TrimSpace(video.SourcePath) == "" {
		return nil, nil
	}
	input, err := d.sourcePath(video.SourcePath)
	if err != nil {
		return nil, err
	}
	resolutions := d.policy.Resolutions()
	jobs := make([]TranscodeJob, 0, len(resolutions))
	for _, resolution := range resolutions {
		job := NewTranscodeJob(video.ID, input, resolution)
		if err := d.queue.Enqueue(ctx, job); err != nil {
			return jobs, fmt.Errorf("enqueue %s for video %d: %w", resolution, video.ID, err)
		}
		d.metrics.ObserveEnqueue(d.queue.Name())
		d.logger.Info("transcode job enqueued", "job_id", job.ID, "video_id", video.ID, "resolution", resolution)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// VideoDeleted removes the source file. A missing file is not an error. HLS
// output and the thumbnail stay on disk.
func (d *Dispatcher) VideoDeleted(_ context.Context, video models.Video) error {
	if strings.TrimSpace(video.SourcePath) == "" {
		return nil
	}
	path, err := d.sourcePath(video.SourcePath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove source for video %d: %w", video.ID, err)
	}
	d.logger.Info("video source removed", "video_id", video.ID, "path", path)
	return nil
}

func (d *Dispatcher) sourcePath(rel string) (string, error) {
	path := filepath.Join(d.mediaRoot, filepath.FromSlash(rel))
	inside, err := filepath.Rel(d.mediaRoot, path)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source path %q escapes media root", rel)
	}
	return path, nil
}
