package storage

import (
	"time"
)

// PostgresConfig describes how the repository initialises its connection
// pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	ApplySchema         bool
	Clock               func() time.Time
}

const defaultAcquireTimeout = 5 * time.Second

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		MinConnections:  -1,
		AcquireTimeout:  defaultAcquireTimeout,
		ApplicationName: "videoflix",
		Clock:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return cfg
}
