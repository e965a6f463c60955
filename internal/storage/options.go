package storage

import (
	"time"
)

// Option configures either repository implementation. Options that only
// make sense for one backend are ignored by the other.
type Option interface {
	applyJSON(*Storage)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	json func(*Storage)
	pg   func(*PostgresConfig)
}

func (o optionAdapter) applyJSON(store *Storage) {
	if o.json != nil && store != nil {
		o.json(store)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(json func(*Storage), pg func(*PostgresConfig)) Option {
	return optionAdapter{json: json, pg: pg}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithClock overrides the time source used for created_at and date_joined.
func WithClock(now func() time.Time) Option {
	return composeOption(
		func(s *Storage) {
			if now != nil {
				s.now = now
			}
		},
		func(cfg *PostgresConfig) {
			if now != nil {
				cfg.Clock = now
			}
		},
	)
}

// WithPostgresPoolLimits bounds the pgx pool.
func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresConnLifetime caps pooled connection lifetime and idle time.
func WithPostgresConnLifetime(lifetime, idle time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if lifetime > 0 {
			cfg.MaxConnLifetime = lifetime
		}
		if idle > 0 {
			cfg.MaxConnIdleTime = idle
		}
	})
}

// WithPostgresHealthCheckInterval sets the pool health check period.
func WithPostgresHealthCheckInterval(interval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if interval > 0 {
			cfg.HealthCheckInterval = interval
		}
	})
}

// WithPostgresAcquireTimeout bounds how long a query waits for a pooled
// connection.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

// WithPostgresApplicationName reports name as application_name.
func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	})
}

// WithSchemaMigration makes NewPostgresRepository apply the embedded schema
// before returning.
func WithSchemaMigration() Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		cfg.ApplySchema = true
	})
}
