package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const loginPath = "/api/login/"

// RateLimitConfig configures request throttling. LoginLimit attempts per
// LoginWindow are allowed per client IP; a RedisAddr shares the counters
// between instances.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	LoginLimit    int
	LoginWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

type rateLimiter struct {
	global       *tokenBucket
	loginLimit   int
	loginWindow  time.Duration
	loginMu      sync.Mutex
	loginBuckets map[string]*ipLimiter
	store        tokenStore
	now          func() time.Time
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Close() error
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		loginLimit:   cfg.LoginLimit,
		loginWindow:  cfg.LoginWindow,
		loginBuckets: make(map[string]*ipLimiter),
		now:          time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.loginLimit < 0 {
		rl.loginLimit = 0
	}
	if rl.loginWindow <= 0 {
		rl.loginWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.loginLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowLogin reports whether another login attempt from key is allowed and,
// if not, how long the client should wait.
func (r *rateLimiter) AllowLogin(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.loginLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, fmt.Sprintf("videoflix:login:%s", key), r.loginLimit, r.loginWindow)
	}
	r.loginMu.Lock()
	bucket, exists := r.loginBuckets[key]
	if !exists {
		rate := float64(r.loginLimit) / r.loginWindow.Seconds()
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.loginLimit)}
		r.loginBuckets[key] = bucket
	}
	bucket.lastSeen = r.now()
	r.cleanupLocked()
	r.loginMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, bucket.bucket.wait(), nil
}

func (r *rateLimiter) cleanupLocked() {
	cutoff := r.now().Add(-2 * r.loginWindow)
	for key, bucket := range r.loginBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.loginBuckets, key)
		}
	}
}

func (r *rateLimiter) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// wait returns the time until the next token, at least one second.
func (tb *tokenBucket) wait() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	missing := 1 - tb.tokens
	d := time.Duration(missing / tb.rate * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}

func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func rateLimitMiddleware(rl *rateLimiter, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			w.Header().Set("Retry-After", "1")
			writeMiddlewareError(w, http.StatusTooManyRequests, "Request was throttled.")
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == loginPath {
			allowed, retryAfter, err := rl.AllowLogin(r.Context(), extractClientIP(r))
			if err != nil {
				loggerFor(r).Error("rate limiter failure", "error", err)
				writeMiddlewareError(w, http.StatusServiceUnavailable, "Rate limiter unavailable.")
				return
			}
			if !allowed {
				seconds := retryAfterSeconds(retryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeMiddlewareError(w, http.StatusTooManyRequests,
					fmt.Sprintf("Request was throttled. Expected available in %d seconds.", seconds))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
