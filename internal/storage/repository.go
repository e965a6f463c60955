package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"videoflix/internal/models"

	"golang.org/x/text/cases"
)

var (
	// ErrNotFound is returned when a user or video does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// CreateUserParams describes a new account.
type CreateUserParams struct {
	Email        string
	PasswordHash string
	IsActive     bool
	IsStaff      bool
}

// CreateVideoParams describes a new catalog entry.
type CreateVideoParams struct {
	Title         string
	Description   string
	Category      models.Category
	SourcePath    string
	ThumbnailPath string
}

// Repository exposes the datastore operations used by the account and
// catalog services.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	ActivateUser(ctx context.Context, id int64) (models.User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) (models.User, error)
	SetStaff(ctx context.Context, id int64, staff bool) (models.User, error)
	RecordLogin(ctx context.Context, id int64, at time.Time) error

	CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error)
	GetVideo(ctx context.Context, id int64) (models.Video, error)
	ListVideos(ctx context.Context) ([]models.Video, error)
	DeleteVideo(ctx context.Context, id int64) (models.Video, error)
}

// NormalizeEmail returns the lookup key for an email address: trimmed and
// Unicode case-folded so that lookups ignore case. A Caser holds state, so
// one is built per call.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}
