package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"videoflix/internal/auth"
	"videoflix/internal/catalog"
	"videoflix/internal/media"
	"videoflix/internal/models"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/storage"
)

// Mailer delivers account emails. Implementations log their own failures.
type Mailer interface {
	SendActivation(ctx context.Context, user models.User, uidb64, token string)
	SendPasswordReset(ctx context.Context, user models.User, uidb64, token string)
}

// HealthCheck probes one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HandlerConfig carries every dependency of the HTTP handlers.
type HandlerConfig struct {
	Store     storage.Repository
	Tokens    *auth.TokenIssuer
	OneTime   *auth.OneTimeTokens
	Mailer    Mailer
	Catalog   *catalog.Service
	Policy    *media.Policy
	Resolver  *media.Resolver
	Cookies   CookiePolicy
	PublicURL string
	Health    []HealthCheck
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Now       func() time.Time
}

// Handler serves the account, catalog and media endpoints.
type Handler struct {
	store     storage.Repository
	tokens    *auth.TokenIssuer
	oneTime   *auth.OneTimeTokens
	mailer    Mailer
	catalog   *catalog.Service
	policy    *media.Policy
	resolver  *media.Resolver
	cookies   CookiePolicy
	publicURL string
	health    []HealthCheck
	logger    *slog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
}

// NewHandler validates cfg and fills in defaults.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case cfg.OneTime == nil:
		return nil, errors.New("one-time token generator is required")
	case cfg.Mailer == nil:
		return nil, errors.New("mailer is required")
	case cfg.Catalog == nil:
		return nil, errors.New("catalog is required")
	case cfg.Resolver == nil:
		return nil, errors.New("hls resolver is required")
	}
	h := &Handler{
		store:     cfg.Store,
		tokens:    cfg.Tokens,
		oneTime:   cfg.OneTime,
		mailer:    cfg.Mailer,
		catalog:   cfg.Catalog,
		policy:    cfg.Policy,
		resolver:  cfg.Resolver,
		cookies:   cfg.Cookies,
		publicURL: strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/"),
		health:    cfg.Health,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if h.policy == nil {
		h.policy = media.NewPolicy(nil)
	}
	if h.cookies.AccessTTL <= 0 {
		h.cookies.AccessTTL = cfg.Tokens.AccessTTL()
	}
	if h.cookies.RefreshTTL <= 0 {
		h.cookies.RefreshTTL = cfg.Tokens.RefreshTTL()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.metrics == nil {
		h.metrics = metrics.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}
