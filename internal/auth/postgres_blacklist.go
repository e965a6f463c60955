package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBlacklist stores revoked refresh tokens in the token_blacklist
// table so every API replica rejects them.
type PostgresBlacklist struct {
	pool *pgxpool.Pool
}

// NewPostgresBlacklist opens a pool for dsn. The token_blacklist table is
// created by the storage schema.
func NewPostgresBlacklist(ctx context.Context, dsn string) (*PostgresBlacklist, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres blacklist dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres blacklist config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres blacklist pool: %w", err)
	}
	return &PostgresBlacklist{pool: pool}, nil
}

// Close releases the pool, giving up when ctx expires.
func (b *PostgresBlacklist) Close(ctx context.Context) error {
	if b == nil || b.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		b.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (b *PostgresBlacklist) Add(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	_, err := b.pool.Exec(ctx, `
INSERT INTO token_blacklist (jti, user_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (jti) DO NOTHING
`, jti, userID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (b *PostgresBlacklist) Contains(ctx context.Context, jti string) (bool, error) {
	var exists bool
	if err := b.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE jti = $1)`, jti).Scan(&exists); err != nil {
		return false, fmt.Errorf("query blacklist: %w", err)
	}
	return exists, nil
}

func (b *PostgresBlacklist) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM token_blacklist WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge blacklist: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (b *PostgresBlacklist) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

var _ Blacklist = (*PostgresBlacklist)(nil)
