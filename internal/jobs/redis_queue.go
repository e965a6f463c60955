package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultRedisStream = "videoflix:transcode"
	DefaultRedisGroup  = "transcoders"
	// DefaultClaimIdle is how long an entry may sit unacknowledged before
	// another consumer takes it over.
	DefaultClaimIdle = 30 * time.Minute

	payloadField = "payload"
)

// RedisQueueConfig configures the Redis Streams queue.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	DB           int
	Stream       string
	Group        string
	Consumer     string
	BlockTimeout time.Duration
	// ClaimIdle of zero selects DefaultClaimIdle; a negative value turns
	// reclaiming off.
	ClaimIdle    time.Duration
	DialTimeout  time.Duration
	PoolSize     int
	Logger       *slog.Logger
}

// RedisQueue stores jobs in a Redis stream read through a consumer group,
// so each job is delivered to one worker across all processes.
type RedisQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	consumer     string
	blockTimeout time.Duration
	claimIdle    time.Duration
	logger       *slog.Logger

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

// NewRedisQueue connects to Redis and creates the consumer group if needed.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		Username:    strings.TrimSpace(cfg.Username),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  2,
	})
	q := &RedisQueue{
		client:       client,
		stream:       firstNonEmpty(cfg.Stream, DefaultRedisStream),
		group:        firstNonEmpty(cfg.Group, DefaultRedisGroup),
		consumer:     firstNonEmpty(cfg.Consumer, randomConsumerID()),
		blockTimeout: cfg.BlockTimeout,
		claimIdle:    cfg.ClaimIdle,
		logger:       cfg.Logger,
	}
	if q.claimIdle == 0 {
		q.claimIdle = DefaultClaimIdle
	}
	if q.blockTimeout <= 0 {
		q.blockTimeout = 2 * time.Second
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if err := q.ensureGroup(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func (q *RedisQueue) Name() string { return "redis" }

// Stream returns the stream key jobs are written to.
func (q *RedisQueue) Stream() string { return q.stream }

// Group returns the consumer group name.
func (q *RedisQueue) Group() string { return q.group }

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	// Start at 0 so jobs queued before the first worker came up are kept.
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	q.groupReady.Store(true)
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job TranscodeJob) error {
	if err := job.validate(); err != nil {
		return err
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{payloadField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Receive reads the next entry for this consumer, preferring entries another
// consumer left unacknowledged for longer than the claim idle time. Entries
// that cannot be decoded are acknowledged and skipped.
func (q *RedisQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		if err := q.ensureGroup(ctx); err != nil {
			return Delivery{}, err
		}
		if delivery, ok := q.reclaim(ctx); ok {
			return delivery, nil
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.blockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Delivery{}, ctxErr
			}
			if errors.Is(err, redis.ErrClosed) {
				return Delivery{}, ErrQueueClosed
			}
			return Delivery{}, fmt.Errorf("read stream: %w", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if delivery, ok := q.delivery(ctx, msg); ok {
					return delivery, nil
				}
			}
		}
	}
}

func (q *RedisQueue) reclaim(ctx context.Context) (Delivery, bool) {
	if q.claimIdle < 0 {
		return Delivery{}, false
	}
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.ErrClosed) {
			q.logger.Warn("reclaim idle transcode jobs failed", "error", err)
		}
		return Delivery{}, false
	}
	for _, msg := range msgs {
		if delivery, ok := q.delivery(ctx, msg); ok {
			q.logger.Info("reclaimed idle transcode job", "entry_id", msg.ID, "job_id", delivery.Job.ID)
			return delivery, true
		}
	}
	return Delivery{}, false
}

func (q *RedisQueue) delivery(ctx context.Context, msg redis.XMessage) (Delivery, bool) {
	raw, _ := msg.Values[payloadField].(string)
	job, err := decodeJob([]byte(raw))
	if err == nil {
		err = job.validate()
	}
	if err != nil {
		q.logger.Error("discarding malformed transcode job", "entry_id", msg.ID, "error", err)
		_ = q.ack(ctx, msg.ID)
		return Delivery{}, false
	}
	id := msg.ID
	return Delivery{Job: job, ack: func(ctx context.Context) error { return q.ack(ctx, id) }}, true
}

func (q *RedisQueue) ack(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		q.logger.Warn("redis ack failed", "entry_id", id, "error", err)
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}
	return "worker-" + hex.EncodeToString(buf)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ Queue = (*RedisQueue)(nil)
