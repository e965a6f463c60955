// Command server starts the Videoflix API HTTP service.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"videoflix/internal/api"
	"videoflix/internal/auth"
	"videoflix/internal/catalog"
	"videoflix/internal/config"
	"videoflix/internal/jobs"
	"videoflix/internal/mail"
	"videoflix/internal/media"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/server"
	"videoflix/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "videoflix: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// app holds every long-lived resource so it can be closed in reverse order.
type app struct {
	store     storage.Repository
	blacklist auth.Blacklist
	queue     jobs.Queue
	mailer    *mail.Service
	pool      *jobs.Pool
	handler   *api.Handler
	server    *server.Server
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	recorder := metrics.Default()
	a, err := build(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer a.close(cfg.ShutdownTimeout, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	if a.pool != nil {
		if err := a.pool.Start(groupCtx); err != nil {
			return fmt.Errorf("start transcode pool: %w", err)
		}
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := a.pool.Shutdown(shutdownCtx); err != nil {
				logger.Warn("transcode pool did not drain", "error", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.server.Run(groupCtx, cfg.ShutdownTimeout, func(addr net.Addr) {
			logger.Info("videoflix api ready", "addr", addr.String(), "mode", cfg.Mode)
		})
	})
	stopPurge := startBlacklistPurgeWorker(groupCtx, logging.WithComponent(logger, "blacklist-purger"), a.blacklist, cfg.Auth.PurgeInterval)
	defer stopPurge()

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close(cfg.ShutdownTimeout, logger)
		}
	}()

	var err error
	a.store, err = openRepository(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.blacklist, err = openBlacklist(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("no jwt secret configured, sessions will not survive a restart")
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Secret:     secret,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Blacklist:  a.blacklist,
	})
	if err != nil {
		return nil, err
	}
	oneTime := auth.NewOneTimeTokens(secret, cfg.Auth.TokenTimeout)

	a.mailer, err = mail.NewService(mail.ServiceConfig{
		Sender:        newMailSender(cfg.Mail, logging.WithComponent(logger, "mail")),
		FrontendURL:   cfg.Frontend.URL,
		ActivatePath:  cfg.Frontend.ActivatePath,
		ResetPath:     cfg.Frontend.ResetPath,
		TokenValidity: cfg.Auth.TokenTimeout,
		Logger:        logging.WithComponent(logger, "mail"),
		Metrics:       recorder,
	})
	if err != nil {
		return nil, err
	}

	a.queue, err = openQueue(ctx, cfg.Queue, logging.WithComponent(logger, "queue"))
	if err != nil {
		return nil, err
	}
	policy := media.NewPolicy(cfg.Media.Resolutions)
	dispatcher, err := jobs.NewDispatcher(jobs.DispatcherConfig{
		Queue:     a.queue,
		Policy:    policy,
		MediaRoot: cfg.Media.Root,
		Logger:    logging.WithComponent(logger, "dispatcher"),
		Metrics:   recorder,
	})
	if err != nil {
		return nil, err
	}
	videos, err := catalog.NewService(catalog.Config{
		Repository: a.store,
		Dispatcher: dispatcher,
		MediaRoot:  cfg.Media.Root,
		Logger:     logging.WithComponent(logger, "catalog"),
	})
	if err != nil {
		return nil, err
	}
	resolver, err := media.NewResolver(cfg.Media.HLSRoot)
	if err != nil {
		return nil, err
	}

	if cfg.Workers.Count > 0 {
		transcoder, err := media.NewTranscoder(media.TranscoderConfig{
			FFmpegPath: cfg.Media.FFmpegPath,
			Policy:     policy,
			Resolver:   resolver,
			Logger:      logging.WithComponent(logger, "transcoder"),
		})
		if err != nil {
			return nil, err
		}
		a.pool, err = jobs.NewPool(jobs.PoolConfig{
			Queue:       a.queue,
			Transcoder:  transcoder,
			Concurrency: cfg.Workers.Count,
			JobTimeout:  cfg.Workers.JobTimeout,
			Logger:       logging.WithComponent(logger, "worker"),
			Metrics:     recorder,
		})
		if err != nil {
			return nil, err
		}
	}

	a.handler, err = api.NewHandler(api.HandlerConfig{
		Store:    a.store,
		Tokens:   tokens,
		OneTime:  oneTime,
		Mailer:   a.mailer,
		Catalog:  videos,
		Policy:   policy,
		Resolver: resolver,
		Cookies: api.CookiePolicy{
			Secure:     cfg.Auth.CookieSecure,
			AccessTTL:  cfg.Auth.AccessTTL,
			RefreshTTL: cfg.Auth.RefreshTTL,
		},
		PublicURL: cfg.PublicURL,
		Health:    healthChecks(a),
		Logger:    logging.WithComponent(logger, "api"),
		Metrics:   recorder,
	})
	if err != nil {
		return nil, err
	}

	a.server, err = server.New(a.handler, server.Config{
		Addr: cfg.Addr,
		TLS:  server.TLSConfig{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     cfg.RateLimit.GlobalRPS,
			GlobalBurst:   cfg.RateLimit.GlobalBurst,
			LoginLimit:    cfg.RateLimit.LoginLimit,
			LoginWindow:   cfg.RateLimit.LoginWindow,
			RedisAddr:     cfg.RateLimit.RedisAddr,
			RedisPassword: cfg.RateLimit.RedisPassword,
		},
		CORS:        server.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:      logger,
		AuditLogger: logging.WithComponent(logger, "audit"),
		Metrics:     recorder,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) close(timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if a.mailer != nil {
		if err := a.mailer.Close(ctx); err != nil {
			logger.Warn("pending email dropped", "error", err)
		}
		a.mailer = nil
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			logger.Warn("failed to close job queue", "error", err)
		}
		a.queue = nil
	}
	if a.blacklist != nil {
		if err := a.blacklist.Close(ctx); err != nil {
			logger.Warn("failed to close token blacklist", "error", err)
		}
		a.blacklist = nil
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
		a.store = nil
	}
}

func healthChecks(a *app) []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "datastore", Check: a.store.Ping},
		{Name: "token-blacklist", Check: a.blacklist.Ping},
	}
	if pinger, ok := a.queue.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, api.HealthCheck{Name: "job-queue", Check: pinger.Ping})
	}
	return checks
}

func openRepository(ctx context.Context, cfg config.StorageConfig) (storage.Repository, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		opts := []storage.Option{
			storage.WithPostgresPoolLimits(int32(cfg.MaxConns), int32(cfg.MinConns)),
			storage.WithPostgresApplicationName("videoflix"),
		}
		if cfg.AcquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(cfg.AcquireTimeout))
		}
		if cfg.ApplySchema {
			opts = append(opts, storage.WithSchemaMigration())
		}
		repo, err := storage.NewPostgresRepository(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("open postgres datastore: %w", err)
		}
		return repo, nil
	case config.StorageJSON:
		repo, err := storage.NewJSONRepository(cfg.DataPath)
		if err != nil {
			return nil, fmt.Errorf("open json datastore: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// openBlacklist shares revoked tokens through Postgres when the datastore
// lives there; the JSON datastore pairs with the in-memory blacklist.
func openBlacklist(ctx context.Context, cfg config.StorageConfig) (auth.Blacklist, error) {
	if cfg.Driver != config.StoragePostgres {
		return auth.NewMemoryBlacklist(), nil
	}
	blacklist, err := auth.NewPostgresBlacklist(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return blacklist, nil
}

func openQueue(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (jobs.Queue, error) {
	switch cfg.Driver {
	case config.QueueRedis:
		queue, err := jobs.NewRedisQueue(ctx, jobs.RedisQueueConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			Stream:    cfg.Stream,
			Group:     cfg.Group,
			ClaimIdle: cfg.ClaimIdle,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis queue: %w", err)
		}
		return queue, nil
	case config.QueueMemory:
		return jobs.NewMemoryQueue(cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

// newMailSender relays through SMTP when a host is configured and falls back
// to logging the message otherwise, or when the relay fails.
func newMailSender(cfg config.MailConfig, logger *slog.Logger) mail.Sender {
	fallback := mail.LogSender{Logger: logger}
	if cfg.SMTPHost == "" {
		return fallback
	}
	relay, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		logger.Warn("smtp relay disabled", "error", err)
		return fallback
	}
	return mail.MultiSender{Senders: []mail.Sender{relay, fallback}, Logger: logger}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("videoflix-dev-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
