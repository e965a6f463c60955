package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"videoflix/internal/media"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
)

// Transcoder is the part of media.Transcoder the pool needs.
type Transcoder interface {
	ToHLS(ctx context.Context, videoID int64, inputPath, resolution string) (string, error)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Queue       Queue
	Transcoder  Transcoder
	Concurrency int
	// JobTimeout bounds a single encode. Zero means no limit.
	JobTimeout time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

const defaultConcurrency = 2

// Pool pulls jobs from a Queue and runs at most Concurrency encodes at once.
// Every delivery is acknowledged after it finishes, failed or not. A delivery
// still waiting for a worker when Shutdown gives up is not acknowledged.
type Pool struct {
	queue       Queue
	transcoder  Transcoder
	concurrency int
	jobTimeout  time.Duration
	logger      *slog.Logger
	metrics     *metrics.Recorder

	mu       sync.Mutex
	started  bool
	workers  *ants.Pool
	group    *errgroup.Group
	stopLoop context.CancelFunc
	stopJobs context.CancelFunc
	inFlight sync.WaitGroup
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if cfg.Transcoder == nil {
		return nil, errors.New("transcoder is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Pool{
		queue:       cfg.Queue,
		transcoder:  cfg.Transcoder,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		logger:      logger,
		metrics:     recorder,
	}, nil
}

// Start launches the receive loop. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pool already started")
	}
	workers, err := ants.NewPool(p.concurrency, ants.WithPanicHandler(func(v interface{}) {
		p.logger.Error("transcode task panicked", "panic", v)
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	loopCtx, stopLoop := context.WithCancel(ctx)
	// Running encodes survive the receive loop being stopped so shutdown can
	// drain them.
	jobsCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(loopCtx)
	p.workers = workers
	p.group = group
	p.stopLoop = stopLoop
	p.stopJobs = stopJobs
	p.started = true

	group.Go(func() error {
		return p.receiveLoop(groupCtx, jobsCtx)
	})
	p.logger.Info("transcode pool started", "queue", p.queue.Name(), "concurrency", p.concurrency)
	return nil
}

func (p *Pool) receiveLoop(ctx, jobsCtx context.Context) error {
	for {
		delivery, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			p.logger.Warn("receive transcode job failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		p.inFlight.Add(1)
		// Submit blocks while every worker is busy, which applies
		// backpressure to the queue.
		if err := p.workers.Submit(func() {
			defer p.inFlight.Done()
			p.process(jobsCtx, delivery)
		}); err != nil {
			p.inFlight.Done()
			if errors.Is(err, ants.ErrPoolClosed) {
				// Never started: leave it unacknowledged for redelivery.
				p.logger.Warn("transcode job not started before shutdown", "job_id", delivery.Job.ID)
				return nil
			}
			p.logger.Error("submit transcode job failed", "job_id", delivery.Job.ID, "error", err)
			p.acknowledge(delivery)
		}
	}
}

func (p *Pool) process(ctx context.Context, delivery Delivery) {
	job := delivery.Job
	defer p.acknowledge(delivery)

	ctx = logging.ContextWithVideoID(ctx, job.VideoID)
	logger := logging.WithContext(ctx, p.logger).With("job_id", job.ID, "resolution", job.Resolution)
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	started := time.Now()
	p.metrics.TranscodeStarted(job.Resolution)
	logger.Info("transcode started", "input", job.InputPath, "queued_for_ms", started.Sub(job.EnqueuedAt).Milliseconds())

	manifest, err := p.transcoder.ToHLS(ctx, job.VideoID, job.InputPath, job.Resolution)
	if err != nil {
		p.metrics.TranscodeFailed(job.Resolution)
		attrs := []any{"error", err, "duration_ms", time.Since(started).Milliseconds()}
		var encodeErr *media.EncodeError
		if errors.As(err, &encodeErr) && encodeErr.Output != "" {
			attrs = append(attrs, "stderr", encodeErr.Output)
		}
		logger.Error("transcode failed", attrs...)
		return
	}
	elapsed := time.Since(started)
	p.metrics.TranscodeCompleted(job.Resolution, elapsed)
	logger.Info("transcode completed", "manifest", manifest, "duration_ms", elapsed.Milliseconds())
}

func (p *Pool) acknowledge(delivery Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := delivery.Ack(ctx); err != nil {
		p.logger.Warn("ack transcode job failed", "job_id", delivery.Job.ID, "error", err)
	}
}

// Shutdown stops receiving and waits for running encodes. When ctx expires
// first the remaining encodes are cancelled and ctx.Err is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	group, workers := p.group, p.workers
	stopLoop, stopJobs := p.stopLoop, p.stopJobs
	p.mu.Unlock()

	stopLoop()
	done := make(chan error, 1)
	go func() {
		err := group.Wait()
		p.inFlight.Wait()
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	stopJobs()
	workers.Release()
	p.logger.Info("transcode pool stopped")
	return err
}
