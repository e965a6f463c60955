// Package config resolves the runtime configuration shared by the videoflix
// binaries. Values come from command-line flags, then VIDEOFLIX_* environment
// variables, then an optional .env file, then built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"videoflix/internal/media"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	StorageJSON     = "json"
	StoragePostgres = "postgres"

	QueueMemory = "memory"
	QueueRedis  = "redis"

	defaultEnvFile = ".env"
)

// Config is built once at startup and handed to constructors explicitly.
type Config struct {
	Mode            string
	Addr            string
	TLSCertFile     string
	TLSKeyFile      string
	ShutdownTimeout time.Duration
	PublicURL       string

	Log       LogConfig
	Storage   StorageConfig
	Media     MediaConfig
	Queue     QueueConfig
	Workers   WorkerConfig
	Auth      AuthConfig
	Frontend  FrontendConfig
	Mail      MailConfig
	RateLimit RateLimitConfig

	CORSOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Driver         string
	DataPath       string
	PostgresDSN    string
	MaxConns       int
	MinConns       int
	AcquireTimeout time.Duration
	ApplySchema    bool
}

type MediaConfig struct {
	Root        string
	HLSRoot     string
	Resolutions []string
	FFmpegPath  string
}

type QueueConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	Stream        string
	Group         string
	Buffer        int
	// ClaimIdle is how long a Redis entry may stay unacknowledged before
	// another worker takes it over.
	ClaimIdle     time.Duration
}

type WorkerConfig struct {
	Count      int
	JobTimeout time.Duration
	// MetricsAddr is where a standalone worker serves /metrics and /healthz.
	// Empty disables the listener.
	MetricsAddr string
}

type AuthConfig struct {
	JWTSecret    string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	TokenTimeout time.Duration
	CookieSecure bool
	// PurgeInterval controls how often expired blacklist entries are removed.
	PurgeInterval time.Duration
}

type FrontendConfig struct {
	URL          string
	ActivatePath string
	ResetPath    string
}

type MailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type RateLimitConfig struct {
	LoginLimit    int
	LoginWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	GlobalRPS     float64
	GlobalBurst   int
}

// FieldError reports the first configuration value that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Load parses args (without the program name) against the process
// environment. The .env file named by VIDEOFLIX_ENV_FILE, or ./.env, fills
// in variables the environment does not set.
func Load(name string, args []string) (Config, error) {
	return load(name, args, os.LookupEnv, io.Discard)
}

func load(name string, args []string, lookup func(string) (string, bool), output io.Writer) (Config, error) {
	envFile := defaultEnvFile
	if v, ok := lookup("VIDEOFLIX_ENV_FILE"); ok && strings.TrimSpace(v) != "" {
		envFile = strings.TrimSpace(v)
	}
	dotenv, err := readEnvFile(envFile)
	if err != nil {
		return Config{}, err
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(output)

	mode := flags.String("mode", "", "runtime mode (development or production)")
	addr := flags.String("addr", "", "HTTP listen address")
	tlsCert := flags.String("tls-cert", "", "TLS certificate file")
	tlsKey := flags.String("tls-key", "", "TLS private key file")
	shutdownTimeout := flags.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	publicURL := flags.String("public-url", "", "public base URL used for thumbnail links")

	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flags.String("log-format", "", "log format (json or text)")

	storageDriver := flags.String("storage-driver", "", "datastore driver (json or postgres)")
	dataPath := flags.String("data", "", "path to the JSON datastore")
	postgresDSN := flags.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flags.Int("postgres-max-conns", 0, "maximum Postgres connections")
	postgresMinConns := flags.Int("postgres-min-conns", 0, "minimum idle Postgres connections")
	postgresAcquire := flags.Duration("postgres-acquire-timeout", 0, "Postgres connect and query acquire timeout")
	applySchema := flags.Bool("postgres-apply-schema", false, "create the Postgres schema on startup")

	mediaRoot := flags.String("media-root", "", "directory holding uploads, thumbnails and HLS output")
	hlsRoot := flags.String("hls-root", "", "directory for HLS output (defaults to <media-root>/hls)")
	resolutions := flags.String("resolutions", "", "comma separated allowed resolutions")
	ffmpegPath := flags.String("ffmpeg", "", "ffmpeg binary")

	queueDriver := flags.String("queue-driver", "", "transcode queue driver (memory or redis)")
	redisAddr := flags.String("redis-addr", "", "Redis address for the transcode queue")
	redisPassword := flags.String("redis-password", "", "Redis password for the transcode queue")
	redisStream := flags.String("redis-stream", "", "Redis stream key for transcode jobs")
	redisGroup := flags.String("redis-group", "", "Redis consumer group for transcode workers")
	queueBuffer := flags.Int("queue-buffer", 0, "memory queue capacity")
	claimIdle := flags.Duration("queue-claim-idle", 0, "idle time before an unacknowledged Redis job is redelivered")

	workers := flags.Int("workers", 0, "concurrent transcode workers (0 disables embedded workers)")
	jobTimeout := flags.Duration("job-timeout", 0, "per-job encode timeout (0 means none)")
	workerMetricsAddr := flags.String("worker-metrics-addr", "", "listen address for standalone worker metrics")

	jwtSecret := flags.String("jwt-secret", "", "HMAC secret for session and one-time tokens")
	accessTTL := flags.Duration("access-ttl", 0, "access token lifetime")
	refreshTTL := flags.Duration("refresh-ttl", 0, "refresh token lifetime")
	tokenTimeout := flags.Duration("token-timeout", 0, "activation and password reset token lifetime")
	cookieSecure := flags.Bool("cookie-secure", true, "mark auth cookies Secure with SameSite=None")
	purgeInterval := flags.Duration("blacklist-purge-interval", 0, "interval between blacklist purges")

	frontendURL := flags.String("frontend-url", "", "frontend base URL for email links")
	activatePath := flags.String("frontend-activate-path", "", "frontend activation route")
	resetPath := flags.String("frontend-reset-path", "", "frontend password reset route")

	smtpHost := flags.String("smtp-host", "", "SMTP host (empty logs emails instead)")
	smtpPort := flags.Int("smtp-port", 0, "SMTP port")
	smtpUser := flags.String("smtp-username", "", "SMTP username")
	smtpPassword := flags.String("smtp-password", "", "SMTP password")
	smtpTimeout := flags.Duration("smtp-timeout", 0, "SMTP dial and delivery timeout")
	mailFrom := flags.String("mail-from", "", "sender address for outgoing email")

	corsOrigins := flags.String("cors-origins", "", "comma separated origins allowed to call the API")

	loginLimit := flags.Int("rate-login-limit", 0, "login attempts per window per IP (0 disables)")
	loginWindow := flags.Duration("rate-login-window", 0, "login rate limit window")
	rateRedisAddr := flags.String("rate-redis-addr", "", "Redis address shared by login rate limiters")
	rateRedisPassword := flags.String("rate-redis-password", "", "Redis password for the rate limiter")
	globalRPS := flags.Float64("rate-global-rps", 0, "global requests per second (0 disables)")
	globalBurst := flags.Int("rate-global-burst", 0, "global burst size")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	r := resolver{set: set, env: env}

	cfg := Config{
		Mode:        strings.ToLower(r.resolveString("mode", *mode, "VIDEOFLIX_MODE", ModeDevelopment)),
		Addr:        r.resolveString("addr", *addr, "VIDEOFLIX_ADDR", ":8000"),
		TLSCertFile: r.resolveString("tls-cert", *tlsCert, "VIDEOFLIX_TLS_CERT", ""),
		TLSKeyFile:  r.resolveString("tls-key", *tlsKey, "VIDEOFLIX_TLS_KEY", ""),
		PublicURL:   r.resolveString("public-url", *publicURL, "VIDEOFLIX_PUBLIC_URL", ""),
		Log: LogConfig{
			Level:  r.resolveString("log-level", *logLevel, "VIDEOFLIX_LOG_LEVEL", "info"),
			Format: strings.ToLower(r.resolveString("log-format", *logFormat, "VIDEOFLIX_LOG_FORMAT", "json")),
		},
		Storage: StorageConfig{
			Driver:   strings.ToLower(r.resolveString("storage-driver", *storageDriver, "VIDEOFLIX_STORAGE_DRIVER", StorageJSON)),
			DataPath: r.resolveString("data", *dataPath, "VIDEOFLIX_DATA", "data/store.json"),
			PostgresDSN: firstNonEmpty(
				r.resolveString("postgres-dsn", *postgresDSN, "VIDEOFLIX_POSTGRES_DSN", ""),
				r.lookup("DATABASE_URL"),
			),
		},
		Media: MediaConfig{
			Root:       r.resolveString("media-root", *mediaRoot, "VIDEOFLIX_MEDIA_ROOT", "media"),
			FFmpegPath: r.resolveString("ffmpeg", *ffmpegPath, "VIDEOFLIX_FFMPEG_PATH", "ffmpeg"),
		},
		Queue: QueueConfig{
			Driver:        strings.ToLower(r.resolveString("queue-driver", *queueDriver, "VIDEOFLIX_QUEUE_DRIVER", QueueMemory)),
			RedisAddr:     r.resolveString("redis-addr", *redisAddr, "VIDEOFLIX_REDIS_ADDR", ""),
			RedisPassword: r.resolveString("redis-password", *redisPassword, "VIDEOFLIX_REDIS_PASSWORD", ""),
			Stream:        r.resolveString("redis-stream", *redisStream, "VIDEOFLIX_REDIS_STREAM", ""),
			Group:         r.resolveString("redis-group", *redisGroup, "VIDEOFLIX_REDIS_GROUP", ""),
		},
		Workers: WorkerConfig{
			MetricsAddr: r.resolveString("worker-metrics-addr", *workerMetricsAddr, "VIDEOFLIX_WORKER_METRICS_ADDR", ""),
		},
		Auth: AuthConfig{
			JWTSecret: r.resolveString("jwt-secret", *jwtSecret, "VIDEOFLIX_JWT_SECRET", ""),
		},
		Frontend: FrontendConfig{
			URL:          strings.TrimRight(r.resolveString("frontend-url", *frontendURL, "VIDEOFLIX_FRONTEND_URL", "http://localhost:3000"), "/"),
			ActivatePath: r.resolveString("frontend-activate-path", *activatePath, "VIDEOFLIX_FRONTEND_ACTIVATE_PATH", "/verify-email"),
			ResetPath:    r.resolveString("frontend-reset-path", *resetPath, "VIDEOFLIX_FRONTEND_RESET_PATH", "/reset-password"),
		},
		Mail: MailConfig{
			SMTPHost: r.resolveString("smtp-host", *smtpHost, "VIDEOFLIX_SMTP_HOST", ""),
			Username: r.resolveString("smtp-username", *smtpUser, "VIDEOFLIX_SMTP_USERNAME", ""),
			Password: r.resolveString("smtp-password", *smtpPassword, "VIDEOFLIX_SMTP_PASSWORD", ""),
			From:     r.resolveString("mail-from", *mailFrom, "VIDEOFLIX_MAIL_FROM", "no-reply@videoflix.local"),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     r.resolveString("rate-redis-addr", *rateRedisAddr, "VIDEOFLIX_RATE_REDIS_ADDR", ""),
			RedisPassword: r.resolveString("rate-redis-password", *rateRedisPassword, "VIDEOFLIX_RATE_REDIS_PASSWORD", ""),
		},
		CORSOrigins: splitAndTrim(r.resolveString("cors-origins", *corsOrigins, "VIDEOFLIX_CORS_ORIGINS", "")),
	}
	cfg.Media.HLSRoot = r.resolveString("hls-root", *hlsRoot, "VIDEOFLIX_HLS_ROOT", filepath.Join(cfg.Media.Root, "hls"))
	cfg.Media.Resolutions = splitAndTrim(r.resolveString("resolutions", *resolutions, "VIDEOFLIX_ALLOWED_RESOLUTIONS", strings.Join(media.DefaultResolutions, ",")))

	ints := []struct {
		name     string
		flag     int
		env      string
		fallback int
		dst      *int
	}{
		{"postgres-max-conns", *postgresMaxConns, "VIDEOFLIX_POSTGRES_MAX_CONNS", 0, &cfg.Storage.MaxConns},
		{"postgres-min-conns", *postgresMinConns, "VIDEOFLIX_POSTGRES_MIN_CONNS", 0, &cfg.Storage.MinConns},
		{"queue-buffer", *queueBuffer, "VIDEOFLIX_QUEUE_BUFFER", 256, &cfg.Queue.Buffer},
		{"workers", *workers, "VIDEOFLIX_WORKERS", 2, &cfg.Workers.Count},
		{"smtp-port", *smtpPort, "VIDEOFLIX_SMTP_PORT", 587, &cfg.Mail.SMTPPort},
		{"rate-login-limit", *loginLimit, "VIDEOFLIX_RATE_LOGIN_LIMIT", 10, &cfg.RateLimit.LoginLimit},
		{"rate-global-burst", *globalBurst, "VIDEOFLIX_RATE_GLOBAL_BURST", 0, &cfg.RateLimit.GlobalBurst},
	}
	for _, item := range ints {
		value, err := r.resolveInt(item.name, item.flag, item.env, item.fallback)
		if err != nil {
			return Config{}, err
		}
		*item.dst = value
	}

	durations := []struct {
		name     string
		flag     time.Duration
		env      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"shutdown-timeout", *shutdownTimeout, "VIDEOFLIX_SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
		{"postgres-acquire-timeout", *postgresAcquire, "VIDEOFLIX_POSTGRES_ACQUIRE_TIMEOUT", 0, &cfg.Storage.AcquireTimeout},
		{"job-timeout", *jobTimeout, "VIDEOFLIX_JOB_TIMEOUT", 0, &cfg.Workers.JobTimeout},
		{"access-ttl", *accessTTL, "VIDEOFLIX_ACCESS_TTL", time.Hour, &cfg.Auth.AccessTTL},
		{"refresh-ttl", *refreshTTL, "VIDEOFLIX_REFRESH_TTL", 7 * 24 * time.Hour, &cfg.Auth.RefreshTTL},
		{"token-timeout", *tokenTimeout, "VIDEOFLIX_TOKEN_TIMEOUT", 3 * 24 * time.Hour, &cfg.Auth.TokenTimeout},
		{"blacklist-purge-interval", *purgeInterval, "VIDEOFLIX_BLACKLIST_PURGE_INTERVAL", time.Hour, &cfg.Auth.PurgeInterval},
		{"queue-claim-idle", *claimIdle, "VIDEOFLIX_QUEUE_CLAIM_IDLE", 30 * time.Minute, &cfg.Queue.ClaimIdle},
		{"smtp-timeout", *smtpTimeout, "VIDEOFLIX_SMTP_TIMEOUT", 10 * time.Second, &cfg.Mail.Timeout},
		{"rate-login-window", *loginWindow, "VIDEOFLIX_RATE_LOGIN_WINDOW", time.Minute, &cfg.RateLimit.LoginWindow},
	}
	for _, item := range durations {
		value, err := r.resolveDuration(item.name, item.flag, item.env, item.fallback)
		if err != nil {
			return Config{}, err
		}
		*item.dst = value
	}

	bools := []struct {
		name     string
		flag     bool
		env      string
		fallback bool
		dst      *bool
	}{
		{"postgres-apply-schema", *applySchema, "VIDEOFLIX_POSTGRES_APPLY_SCHEMA", false, &cfg.Storage.ApplySchema},
		{"cookie-secure", *cookieSecure, "VIDEOFLIX_COOKIE_SECURE", true, &cfg.Auth.CookieSecure},
	}
	for _, item := range bools {
		value, err := r.resolveBool(item.name, item.flag, item.env, item.fallback)
		if err != nil {
			return Config{}, err
		}
		*item.dst = value
	}

	rps, err := r.resolveFloat("rate-global-rps", *globalRPS, "VIDEOFLIX_RATE_GLOBAL_RPS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimit.GlobalRPS = rps

	return cfg, nil
}

func readEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}

// IsProduction reports whether the production safeguards apply.
func (c Config) IsProduction() bool {
	return c.Mode == ModeProduction
}

// Validate checks the settings the API server depends on and returns a
// *FieldError for the first bad value.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return invalid("mode", "must be %q or %q", ModeDevelopment, ModeProduction)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return invalid("addr", "must not be empty")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return invalid("tls-cert", "tls-cert and tls-key must be provided together")
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown-timeout", "must be positive")
	}
	if c.PublicURL != "" {
		if err := checkHTTPURL(c.PublicURL); err != nil {
			return invalid("public-url", "%v", err)
		}
	}
	if err := c.validateLog(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case StorageJSON:
		if strings.TrimSpace(c.Storage.DataPath) == "" {
			return invalid("data", "required for the json storage driver")
		}
		if c.IsProduction() {
			return invalid("storage-driver", "json storage is not supported in production")
		}
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return invalid("postgres-dsn", "required for the postgres storage driver")
		}
	default:
		return invalid("storage-driver", "unsupported driver %q", c.Storage.Driver)
	}
	if c.Storage.MaxConns < 0 || c.Storage.MinConns < 0 {
		return invalid("postgres-max-conns", "pool limits must not be negative")
	}
	if c.Storage.MaxConns > 0 && c.Storage.MinConns > c.Storage.MaxConns {
		return invalid("postgres-min-conns", "must not exceed postgres-max-conns")
	}

	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if c.Queue.Driver == QueueMemory && c.Workers.Count == 0 {
		return invalid("workers", "the memory queue needs at least one embedded worker")
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" && c.IsProduction() {
		return invalid("jwt-secret", "required in production mode")
	}
	if c.Auth.AccessTTL <= 0 {
		return invalid("access-ttl", "must be positive")
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return invalid("refresh-ttl", "must not be shorter than access-ttl")
	}
	if c.Auth.TokenTimeout <= 0 {
		return invalid("token-timeout", "must be positive")
	}
	if c.Auth.PurgeInterval <= 0 {
		return invalid("blacklist-purge-interval", "must be positive")
	}

	if err := checkHTTPURL(c.Frontend.URL); err != nil {
		return invalid("frontend-url", "%v", err)
	}
	if !strings.HasPrefix(c.Frontend.ActivatePath, "/") {
		return invalid("frontend-activate-path", "must start with /")
	}
	if !strings.HasPrefix(c.Frontend.ResetPath, "/") {
		return invalid("frontend-reset-path", "must start with /")
	}

	if _, err := mail.ParseAddress(c.Mail.From); err != nil {
		return invalid("mail-from", "invalid address: %v", err)
	}
	if c.Mail.SMTPHost != "" && (c.Mail.SMTPPort <= 0 || c.Mail.SMTPPort > 65535) {
		return invalid("smtp-port", "must be between 1 and 65535")
	}
	if c.Mail.SMTPHost != "" && c.Mail.Timeout <= 0 {
		return invalid("smtp-timeout", "must be positive")
	}

	if c.RateLimit.LoginLimit < 0 {
		return invalid("rate-login-limit", "must not be negative")
	}
	if c.RateLimit.LoginLimit > 0 && c.RateLimit.LoginWindow <= 0 {
		return invalid("rate-login-window", "must be positive when login limiting is enabled")
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.GlobalBurst < 0 {
		return invalid("rate-global-rps", "must not be negative")
	}
	return nil
}

// ValidateWorker checks the subset of settings a standalone transcode worker
// needs. Standalone workers only make sense against the Redis queue.
func (c Config) ValidateWorker() error {
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateMedia(); err != nil {
		return err
	}
	if c.Queue.Driver != QueueRedis {
		return invalid("queue-driver", "standalone workers require the redis queue")
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if c.Workers.Count <= 0 {
		return invalid("workers", "must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown-timeout", "must be positive")
	}
	return nil
}

func (c Config) validateLog() error {
	switch c.Log.Format {
	case "json", "text":
		return nil
	default:
		return invalid("log-format", "must be json or text")
	}
}

func (c Config) validateMedia() error {
	if strings.TrimSpace(c.Media.Root) == "" {
		return invalid("media-root", "must not be empty")
	}
	if strings.TrimSpace(c.Media.HLSRoot) == "" {
		return invalid("hls-root", "must not be empty")
	}
	if len(c.Media.Resolutions) == 0 {
		return invalid("resolutions", "at least one resolution is required")
	}
	policy := media.NewPolicy(c.Media.Resolutions)
	for _, label := range c.Media.Resolutions {
		if _, err := policy.HeightFor(label); err != nil {
			return invalid("resolutions", "unknown resolution %q", label)
		}
	}
	if strings.TrimSpace(c.Media.FFmpegPath) == "" {
		return invalid("ffmpeg", "must not be empty")
	}
	return nil
}

func (c Config) validateQueue() error {
	switch c.Queue.Driver {
	case QueueMemory:
		if c.Queue.Buffer <= 0 {
			return invalid("queue-buffer", "must be positive")
		}
	case QueueRedis:
		if strings.TrimSpace(c.Queue.RedisAddr) == "" {
			return invalid("redis-addr", "required for the redis queue driver")
		}
	default:
		return invalid("queue-driver", "unsupported driver %q", c.Queue.Driver)
	}
	if c.Workers.Count < 0 {
		return invalid("workers", "must not be negative")
	}
	if c.Workers.JobTimeout < 0 {
		return invalid("job-timeout", "must not be negative")
	}
	return nil
}

func checkHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// resolver applies the flag, environment, default precedence. A flag only
// wins when it was passed explicitly.
type resolver struct {
	set map[string]bool
	env func(string) (string, bool)
}

func (r resolver) lookup(key string) string {
	if v, ok := r.env(key); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (r resolver) resolveString(name, flagValue, envKey, fallback string) string {
	if r.set[name] {
		return strings.TrimSpace(flagValue)
	}
	return firstNonEmpty(r.lookup(envKey), fallback)
}

func (r resolver) resolveInt(name string, flagValue int, envKey string, fallback int) (int, error) {
	if r.set[name] {
		return flagValue, nil
	}
	if env := r.lookup(envKey); env != "" {
		value, err := strconv.Atoi(env)
		if err != nil {
			return 0, invalid(envKey, "invalid integer %q", env)
		}
		return value, nil
	}
	return fallback, nil
}

func (r resolver) resolveFloat(name string, flagValue float64, envKey string, fallback float64) (float64, error) {
	if r.set[name] {
		return flagValue, nil
	}
	if env := r.lookup(envKey); env != "" {
		value, err := strconv.ParseFloat(env, 64)
		if err != nil {
			return 0, invalid(envKey, "invalid number %q", env)
		}
		return value, nil
	}
	return fallback, nil
}

func (r resolver) resolveDuration(name string, flagValue time.Duration, envKey string, fallback time.Duration) (time.Duration, error) {
	if r.set[name] {
		return flagValue, nil
	}
	if env := r.lookup(envKey); env != "" {
		value, err := time.ParseDuration(env)
		if err != nil {
			return 0, invalid(envKey, "invalid duration %q", env)
		}
		return value, nil
	}
	return fallback, nil
}

func (r resolver) resolveBool(name string, flagValue bool, envKey string, fallback bool) (bool, error) {
	if r.set[name] {
		return flagValue, nil
	}
	if env := r.lookup(envKey); env != "" {
		value, err := strconv.ParseBool(env)
		if err != nil {
			return false, invalid(envKey, "invalid boolean %q", env)
		}
		return value, nil
	}
	return fallback, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
