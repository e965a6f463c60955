package main

import (
	"context"
	"path/filepath"
	"testing"

	"videoflix/internal/storage"
)

func TestEnsureUserCreatesActiveAccount(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}

	user, created, err := ensureUser(ctx, repo, "Admin@Example.com", "correct-horse", true)
	if err != nil {
		t.Fatalf("ensureUser returned error: %v", err)
	}
	if !created {
		t.Fatal("expected a new account")
	}
	if !user.IsActive || !user.IsStaff {
		t.Fatalf("expected active staff user, got %+v", user)
	}
	if _, err := storage.AuthenticateUser(ctx, repo, "admin@example.com", "correct-horse"); err != nil {
		t.Fatalf("AuthenticateUser returned error: %v", err)
	}
}

func TestEnsureUserUpdatesExistingAccount(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	hash, err := storage.HashPassword("old-password")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	original, err := repo.CreateUser(ctx, storage.CreateUserParams{Email: "viewer@example.com", PasswordHash: hash})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	user, created, err := ensureUser(ctx, repo, "viewer@example.com", "new-password", true)
	if err != nil {
		t.Fatalf("ensureUser returned error: %v", err)
	}
	if created {
		t.Fatal("expected existing account to be updated")
	}
	if user.ID != original.ID || !user.IsActive || !user.IsStaff {
		t.Fatalf("unexpected updated user %+v", user)
	}
	if _, err := storage.AuthenticateUser(ctx, repo, "viewer@example.com", "old-password"); err == nil {
		t.Fatal("expected old password to stop working")
	}
	if _, err := storage.AuthenticateUser(ctx, repo, "viewer@example.com", "new-password"); err != nil {
		t.Fatalf("AuthenticateUser returned error: %v", err)
	}

	user, _, err = ensureUser(ctx, repo, "viewer@example.com", "new-password", false)
	if err != nil {
		t.Fatalf("ensureUser returned error: %v", err)
	}
	if user.IsStaff {
		t.Fatal("expected staff rights to be revoked")
	}
}
