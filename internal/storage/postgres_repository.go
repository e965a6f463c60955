package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"videoflix/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a pgx pool for dsn. The schema is applied only
// when WithSchemaMigration is passed.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool, cfg: cfg}
	if cfg.ApplySchema {
		if err := ApplySchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return repo, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) acquireContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.AcquireTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.AcquireTimeout)
}

const userColumns = "id, email, password_hash, is_active, is_staff, date_joined, last_login"

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user      models.User
		lastLogin *time.Time
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.IsStaff, &user.DateJoined, &lastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	user.DateJoined = user.DateJoined.UTC()
	if lastLogin != nil {
		ts := lastLogin.UTC()
		user.LastLogin = &ts
	}
	return user, nil
}

func (r *postgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	email := strings.TrimSpace(params.Email)
	if email == "" {
		return models.User{}, fmt.Errorf("email is required")
	}
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, email_key, password_hash, is_active, is_staff, date_joined)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		email, NormalizeEmail(email), params.PasswordHash, params.IsActive, params.IsStaff, r.cfg.Clock())
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id int64) (models.User, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	return r.userResult(scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)))
}

func (r *postgresRepository) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	return r.userResult(scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email_key = $1`, NormalizeEmail(email))))
}

func (r *postgresRepository) ActivateUser(ctx context.Context, id int64) (models.User, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	return r.userResult(scanUser(r.pool.QueryRow(ctx, `UPDATE users SET is_active = TRUE WHERE id = $1 RETURNING `+userColumns, id)))
}

func (r *postgresRepository) SetPasswordHash(ctx context.Context, id int64, hash string) (models.User, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	return r.userResult(scanUser(r.pool.QueryRow(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1 RETURNING `+userColumns, id, hash)))
}

func (r *postgresRepository) SetStaff(ctx context.Context, id int64, staff bool) (models.User, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	return r.userResult(scanUser(r.pool.QueryRow(ctx, `UPDATE users SET is_staff = $2 WHERE id = $1 RETURNING `+userColumns, id, staff)))
}

func (r *postgresRepository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) userResult(user models.User, err error) (models.User, error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, err
}

const videoColumns = "id, title, description, category, created_at, source_path, thumbnail_path"

func scanVideo(row pgx.Row) (models.Video, error) {
	var (
		video    models.Video
		category string
	)
	if err := row.Scan(&video.ID, &video.Title, &video.Description, &category, &video.CreatedAt, &video.SourcePath, &video.ThumbnailPath); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, err
	}
	video.Category = models.Category(category)
	video.CreatedAt = video.CreatedAt.UTC()
	return video, nil
}

func (r *postgresRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO videos (title, description, category, created_at, source_path, thumbnail_path)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+videoColumns,
		params.Title, params.Description, string(params.Category), r.cfg.Clock(), params.SourcePath, params.ThumbnailPath)
	video, err := scanVideo(row)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(ctx context.Context, id int64) (models.Video, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Video{}, fmt.Errorf("query video: %w", err)
	}
	return video, err
}

func (r *postgresRepository) ListVideos(ctx context.Context) ([]models.Video, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()
	videos := make([]models.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

func (r *postgresRepository) DeleteVideo(ctx context.Context, id int64) (models.Video, error) {
	ctx, cancel := r.acquireContext(ctx)
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx, `DELETE FROM videos WHERE id = $1 RETURNING `+videoColumns, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Video{}, fmt.Errorf("delete video: %w", err)
	}
	return video, err
}

var _ Repository = (*postgresRepository)(nil)
