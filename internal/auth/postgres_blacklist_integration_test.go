package auth

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"videoflix/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPostgresBlacklist(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("VIDEOFLIX_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("VIDEOFLIX_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if err := storage.ApplySchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("ApplySchema returned error: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE token_blacklist"); err != nil {
		pool.Close()
		t.Fatalf("truncate: %v", err)
	}
	pool.Close()

	blacklist, err := NewPostgresBlacklist(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresBlacklist returned error: %v", err)
	}
	defer blacklist.Close(context.Background())

	now := time.Now().UTC()
	if err := blacklist.Add(ctx, "expired-jti", 1, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := blacklist.Add(ctx, "live-jti", 1, now.Add(time.Hour)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := blacklist.Add(ctx, "live-jti", 1, now.Add(time.Hour)); err != nil {
		t.Fatalf("duplicate Add returned error: %v", err)
	}
	ok, err := blacklist.Contains(ctx, "live-jti")
	if err != nil || !ok {
		t.Fatalf("Contains(live-jti) = %v, %v", ok, err)
	}
	removed, err := blacklist.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged row, got %d", removed)
	}
	if ok, _ := blacklist.Contains(ctx, "expired-jti"); ok {
		t.Fatal("expected expired-jti to be purged")
	}
}
