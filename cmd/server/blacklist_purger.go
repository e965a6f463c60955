package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type blacklistPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type purgeTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) purgeTicker

func startBlacklistPurgeWorker(ctx context.Context, logger *slog.Logger, blacklist blacklistPurger, interval time.Duration) func() {
	return startBlacklistPurgeWorkerWithTicker(ctx, logger, blacklist, interval, time.Now, func(d time.Duration) purgeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startBlacklistPurgeWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	blacklist blacklistPurger,
	interval time.Duration,
	now func() time.Time,
	newTicker tickerFactory,
) func() {
	if blacklist == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				removed, err := blacklist.PurgeExpired(workerCtx, now())
				if logger == nil {
					continue
				}
				if err != nil {
					logger.Error("failed to purge expired blacklist entries", "error", err)
				} else if removed > 0 {
					logger.Debug("purged expired blacklist entries", "removed", removed)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
