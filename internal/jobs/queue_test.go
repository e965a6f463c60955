package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	job := NewTranscodeJob(1, "/media/videos/a.mp4", "720p")
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 buffered job, got %d", q.Len())
	}
	delivery, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if delivery.Job.ID != job.ID || delivery.Job.Resolution != "720p" {
		t.Fatalf("unexpected job %+v", delivery.Job)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("Ack returned error: %v", err)
	}
}

func TestMemoryQueueRejectsInvalidJobs(t *testing.T) {
	q := NewMemoryQueue(1)
	cases := map[string]TranscodeJob{
		"missing video":      {ID: "a", InputPath: "in.mp4", Resolution: "720p"},
		"missing input":      {ID: "b", VideoID: 1, Resolution: "720p"},
		"missing resolution": {ID: "c", VideoID: 1, InputPath: "in.mp4"},
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			if err := q.Enqueue(context.Background(), job); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMemoryQueueReceiveHonoursContextAndClose(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := q.Receive(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Enqueue(context.Background(), NewTranscodeJob(1, "in.mp4", "360p")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed on enqueue, got %v", err)
	}
}

func TestMemoryQueueEnqueueBlocksWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Enqueue(context.Background(), NewTranscodeJob(1, "in.mp4", "360p")); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, NewTranscodeJob(1, "in.mp4", "720p")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
