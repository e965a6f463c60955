package auth

import (
	"context"
	"sync"
	"time"
)

// Blacklist records revoked refresh tokens by their jti until they expire.
type Blacklist interface {
	Add(ctx context.Context, jti string, userID int64, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type blacklistEntry struct {
	userID    int64
	expiresAt time.Time
}

// MemoryBlacklist keeps revoked tokens in-process. It suits development and
// single-instance deployments.
type MemoryBlacklist struct {
	mu      sync.RWMutex
	entries map[string]blacklistEntry
}

// NewMemoryBlacklist constructs an empty in-memory blacklist.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]blacklistEntry)}
}

func (b *MemoryBlacklist) Add(_ context.Context, jti string, userID int64, expiresAt time.Time) error {
	b.mu.Lock()
	b.entries[jti] = blacklistEntry{userID: userID, expiresAt: expiresAt}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	b.mu.RLock()
	_, ok := b.entries[jti]
	b.mu.RUnlock()
	return ok, nil
}

func (b *MemoryBlacklist) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var removed int64
	b.mu.Lock()
	for jti, entry := range b.entries {
		if !now.Before(entry.expiresAt) {
			delete(b.entries, jti)
			removed++
		}
	}
	b.mu.Unlock()
	return removed, nil
}

func (b *MemoryBlacklist) Ping(context.Context) error {
	return nil
}

func (b *MemoryBlacklist) Close(context.Context) error {
	return nil
}

// Len reports the number of tracked tokens.
func (b *MemoryBlacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

var _ Blacklist = (*MemoryBlacklist)(nil)
