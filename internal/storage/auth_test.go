package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"testing"
)

func TestHashPasswordFormat(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	parts := strings.Split(hash, "$")
	if len(parts) != 5 {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		t.Fatalf("unexpected hash identifiers: %v", parts[:2])
	}
	if parts[2] != strconv.Itoa(passwordHashIterations) {
		t.Fatalf("expected iteration count %d, got %s", passwordHashIterations, parts[2])
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(salt) != passwordHashSaltLength {
		t.Fatalf("unexpected salt %q (%v)", parts[3], err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) != passwordHashKeyLength {
		t.Fatalf("unexpected key %q (%v)", parts[4], err)
	}

	other, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if other == hash {
		t.Fatalf("expected distinct salts per hash")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cretpass")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if err := VerifyPassword(hash, "s3cretpass"); err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}
	if err := VerifyPassword(hash, "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	for _, malformed := range []string{"", "plain", "bcrypt$x$1$a$b", "pbkdf2$sha256$zero$a$b"} {
		if err := VerifyPassword(malformed, "s3cretpass"); err == nil || errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected format error for %q, got %v", malformed, err)
		}
	}
}

func TestAuthenticateUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if _, err := store.CreateUser(ctx, CreateUserParams{Email: "pending@example.com", PasswordHash: hash}); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	active, err := store.CreateUser(ctx, CreateUserParams{Email: "active@example.com", PasswordHash: hash, IsActive: true})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		password string
		wantErr  error
		wantID   int64
	}{
		{name: "success", email: "ACTIVE@example.com", password: "password123", wantID: active.ID},
		{name: "unknown email", email: "nobody@example.com", password: "password123", wantErr: ErrInvalidCredentials},
		{name: "wrong password", email: "active@example.com", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "empty password", email: "active@example.com", password: "", wantErr: ErrInvalidCredentials},
		{name: "inactive", email: "pending@example.com", password: "password123", wantErr: ErrInactiveAccount},
		{name: "inactive wrong password", email: "pending@example.com", password: "nope", wantErr: ErrInvalidCredentials},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			user, err := AuthenticateUser(ctx, store, tc.email, tc.password)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthenticateUser returned error: %v", err)
			}
			if user.ID != tc.wantID {
				t.Fatalf("expected user %d, got %d", tc.wantID, user.ID)
			}
		})
	}
}
