// Command create-user seeds an active account, optionally with staff rights,
// into the datastore. Running it again for an existing email resets the
// password and staff flag and activates the account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"videoflix/internal/models"
	"videoflix/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		email       string
		password    string
		staff       bool
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&email, "email", "", "Email address for the account")
	flag.StringVar(&password, "password", "", "Password for the account")
	flag.BoolVar(&staff, "staff", false, "Grant staff rights (catalog upload and delete)")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		postgresDSN = strings.TrimSpace(os.Getenv("VIDEOFLIX_POSTGRES_DSN"))
	}
	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	user, created, err := ensureUser(ctx, repo, strings.TrimSpace(email), password, staff)
	if err != nil {
		fatalf("create user: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	role := "user"
	if user.IsStaff {
		role = "staff user"
	}
	fmt.Printf("Active %s %s (id %d) %s successfully.\n", role, user.Email, user.ID, state)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(ctx context.Context, jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(ctx, postgresDSN, storage.WithPostgresApplicationName("videoflix-create-user"))
}

func closeRepository(repo storage.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = repo.Close(ctx)
}

func ensureUser(ctx context.Context, repo storage.Repository, email, password string, staff bool) (models.User, bool, error) {
	hash, err := storage.HashPassword(password)
	if err != nil {
		return models.User{}, false, err
	}

	existing, err := repo.FindUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		user, err := repo.CreateUser(ctx, storage.CreateUserParams{
			Email:        email,
			PasswordHash: hash,
			IsActive:     true,
			IsStaff:      staff,
		})
		if err != nil {
			return models.User{}, false, err
		}
		return user, true, nil
	}
	if err != nil {
		return models.User{}, false, err
	}

	updated, err := repo.SetPasswordHash(ctx, existing.ID, hash)
	if err != nil {
		return models.User{}, false, err
	}
	if updated.IsStaff != staff {
		if updated, err = repo.SetStaff(ctx, existing.ID, staff); err != nil {
			return models.User{}, false, err
		}
	}
	if !updated.IsActive {
		if updated, err = repo.ActivateUser(ctx, existing.ID); err != nil {
			return models.User{}, false, err
		}
	}
	return updated, false, nil
}
