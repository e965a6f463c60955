package jobs

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Receive once the queue has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Queue carries transcode jobs from the dispatcher to workers.
type Queue interface {
	Enqueue(ctx context.Context, job TranscodeJob) error
	// Receive blocks until a job is available, ctx is done or the queue
	// is closed.
	Receive(ctx context.Context) (Delivery, error)
	Name() string
	Close() error
}

// Delivery is a received job. Ack marks it handled.
type Delivery struct {
	Job TranscodeJob
	ack func(context.Context) error
}

func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

const defaultMemoryBuffer = 256

// MemoryQueue is an in-process queue for single-binary deployments. Jobs are
// lost on restart.
type MemoryQueue struct {
	ch   chan TranscodeJob
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue returns a queue holding up to buffer pending jobs.
// Enqueue blocks while the buffer is full.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryQueue{
		ch:   make(chan TranscodeJob, buffer),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Name() string { return "memory" }

func (q *MemoryQueue) Enqueue(ctx context.Context, job TranscodeJob) error {
	if err := job.validate(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	select {
	case job := <-q.ch:
		return Delivery{Job: job}, nil
	case <-q.done:
		return Delivery{}, ErrQueueClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Len reports the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
