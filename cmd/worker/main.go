// Command worker consumes transcode jobs from the Redis queue and writes HLS
// renditions into the shared media tree.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"videoflix/internal/config"
	"videoflix/internal/jobs"
	"videoflix/internal/media"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/serverutil"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "videoflix-worker: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

type pinger interface {
	Ping(ctx context.Context) error
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	queue, err := jobs.NewRedisQueue(ctx, jobs.RedisQueueConfig{
		Addr:      cfg.Queue.RedisAddr,
		Password:  cfg.Queue.RedisPassword,
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		ClaimIdle: cfg.Queue.ClaimIdle,
		Logger:    logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		return fmt.Errorf("open redis queue: %w", err)
	}
	return runPool(ctx, cfg, queue, logger, metrics.Default(), nil)
}

// runPool drives the pool until ctx is cancelled. A nil runner selects the
// ffmpeg executable.
func runPool(ctx context.Context, cfg config.Config, queue jobs.Queue, logger *slog.Logger, recorder *metrics.Recorder, runner media.Runner) error {
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("failed to close job queue", "error", err)
		}
	}()

	policy := media.NewPolicy(cfg.Media.Resolutions)
	resolver, err := media.NewResolver(cfg.Media.HLSRoot)
	if err != nil {
		return err
	}
	transcoder, err := media.NewTranscoder(media.TranscoderConfig{
		FFmpegPath: cfg.Media.FFmpegPath,
		Policy:     policy,
		Resolver:   resolver,
		Runner:     runner,
		Logger:      logging.WithComponent(logger, "transcoder"),
	})
	if err != nil {
		return err
	}
	pool, err := jobs.NewPool(jobs.PoolConfig{
		Queue:       queue,
		Transcoder:  transcoder,
		Concurrency: cfg.Workers.Count,
		JobTimeout:  cfg.Workers.JobTimeout,
		Logger:       logging.WithComponent(logger, "worker"),
		Metrics:     recorder,
	})
	if err != nil {
		return err
	}
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start transcode pool: %w", err)
	}
	logger.Info("transcode worker started",
		"concurrency", cfg.Workers.Count,
		"resolutions", policy.Resolutions(),
		"hls_root", resolver.Root(),
	)

	metricsErr := make(chan error, 1)
	if cfg.Workers.MetricsAddr != "" {
		srv := &http.Server{
			Addr:               cfg.Workers.MetricsAddr,
			Handler:           newMetricsRouter(queue, recorder),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			metricsErr <- serverutil.Run(ctx, serverutil.Config{
				Server:          srv,
				ShutdownTimeout: cfg.ShutdownTimeout,
				Logger:           logging.WithComponent(logger, "worker-metrics"),
				OnReady: func(addr net.Addr) {
					logger.Info("worker metrics available", "addr", addr.String(), "path", "/metrics")
				},
			})
		}()
	} else {
		metricsErr <- nil
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-metricsErr:
		if runErr == nil {
			<-ctx.Done()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("transcode pool did not drain", "error", err)
	}
	if runErr == nil && cfg.Workers.MetricsAddr != "" {
		runErr = <-metricsErr
	}
	return runErr
}

func newMetricsRouter(queue jobs.Queue, recorder *metrics.Recorder) http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", recorder.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if p, ok := queue.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":            status,
			"active_transcodes": recorder.ActiveTranscodes(),
		})
	}).Methods(http.MethodGet, http.MethodHead)
	return router
}
