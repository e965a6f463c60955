package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"videoflix/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

func openPostgresForTest(t *testing.T) Repository {
	t.Helper()
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
	if err := ApplySchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("ApplySchema returned error: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE users, videos, token_blacklist RESTART IDENTITY"); err != nil {
		pool.Close()
		t.Fatalf("truncate: %v", err)
	}
	pool.Close()

	repo, err := NewPostgresRepository(ctx, dsn, WithPostgresPoolLimits(4, 0), WithPostgresApplicationName("videoflix-test"))
	if err != nil {
		t.Fatalf("NewPostgresRepository returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close(context.Background())
	})
	return repo
}

func TestPostgresRepositoryUsers(t *testing.T) {
	repo := openPostgresForTest(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, CreateUserParams{Email: "Viewer@Example.com", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if _, err := repo.CreateUser(ctx, CreateUserParams{Email: "viewer@example.com"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	found, err := repo.FindUserByEmail(ctx, "VIEWER@EXAMPLE.COM")
	if err != nil || found.ID != user.ID {
		t.Fatalf("FindUserByEmail = %+v, %v", found, err)
	}
	activated, err := repo.ActivateUser(ctx, user.ID)
	if err != nil || !activated.IsActive {
		t.Fatalf("ActivateUser = %+v, %v", activated, err)
	}
	if err := repo.RecordLogin(ctx, user.ID, time.Now()); err != nil {
		t.Fatalf("RecordLogin returned error: %v", err)
	}
	if err := repo.RecordLogin(ctx, 999999, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetUser(ctx, 999999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepositoryVideos(t *testing.T) {
	repo := openPostgresForTest(t)
	ctx := context.Background()

	older, err := repo.CreateVideo(ctx, CreateVideoParams{Title: "older", Category: models.CategoryAction, SourcePath: "videos/a.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo returned error: %v", err)
	}
	newer, err := repo.CreateVideo(ctx, CreateVideoParams{Title: "newer", Category: models.CategoryRomance})
	if err != nil {
		t.Fatalf("CreateVideo returned error: %v", err)
	}

	videos, err := repo.ListVideos(ctx)
	if err != nil {
		t.Fatalf("ListVideos returned error: %v", err)
	}
	if len(videos) != 2 || videos[0].ID != newer.ID || videos[1].ID != older.ID {
		t.Fatalf("unexpected ordering: %+v", videos)
	}

	deleted, err := repo.DeleteVideo(ctx, older.ID)
	if err != nil {
		t.Fatalf("DeleteVideo returned error: %v", err)
	}
	if deleted.SourcePath != "videos/a.mp4" || deleted.Category != models.CategoryAction {
		t.Fatalf("unexpected deleted record %+v", deleted)
	}
	if _, err := repo.GetVideo(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
