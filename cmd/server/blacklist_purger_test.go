package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"videoflix/internal/auth"
)

type fakeBlacklist struct {
	calls chan time.Time
	err   error
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{calls: make(chan time.Time, 1)}
}

func (f *fakeBlacklist) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	select {
	case f.calls <- now:
	default:
	}
	return 1, f.err
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartBlacklistPurgeWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	blacklist := newFakeBlacklist()
	blacklist.err = errors.New("database unavailable")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stop := startBlacklistPurgeWorkerWithTicker(ctx, logger, blacklist, time.Minute, func() time.Time { return fixed }, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case got := <-blacklist.calls:
		if !got.Equal(fixed) {
			t.Fatalf("expected purge at %s, got %s", fixed, got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected purge to be invoked")
	}

	// A failed purge must not stop the worker.
	ticker.Tick()
	select {
	case <-blacklist.calls:
	case <-time.After(time.Second):
		t.Fatal("expected purge to run again after an error")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartBlacklistPurgeWorkerDisabled(t *testing.T) {
	stop := startBlacklistPurgeWorker(context.Background(), nil, nil, time.Minute)
	stop()

	stop = startBlacklistPurgeWorker(context.Background(), nil, newFakeBlacklist(), 0)
	stop()
}

func TestBlacklistPurgeRemovesExpiredTokens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blacklist := auth.NewMemoryBlacklist()
	now := time.Now()
	if err := blacklist.Add(ctx, "expired", 1, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := blacklist.Add(ctx, "live", 1, now.Add(time.Hour)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	ticker := newManualTicker()
	stop := startBlacklistPurgeWorkerWithTicker(ctx, nil, blacklist, time.Minute, func() time.Time { return now }, func(time.Duration) purgeTicker {
		return ticker
	})
	ticker.Tick()

	deadline := time.Now().Add(time.Second)
	for blacklist.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected one entry after purge, got %d", blacklist.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	revoked, err := blacklist.Contains(ctx, "live")
	if err != nil || !revoked {
		t.Fatalf("expected live token to stay blacklisted, got %v %v", revoked, err)
	}
}
