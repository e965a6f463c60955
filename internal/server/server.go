package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"videoflix/internal/api"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/serverutil"

	"github.com/gorilla/mux"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config configures the HTTP server. ReadTimeout and WriteTimeout default to
// none because uploads and segment downloads can be long.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          TLSConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Security     SecurityConfig
	Logger       *slog.Logger
	AuditLogger  *slog.Logger
	Metrics      *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

var probeMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	router := mux.NewRouter()
	router.Handle("/metrics", recorder.Handler()).Methods(http.MethodGet)
	handler.Register(router)
	router.NotFoundHandler = http.HandlerFunc(api.NotFound)
	router.MethodNotAllowedHandler = methodNotAllowedHandler(router)

	corsHandler, err := newCORS(cfg.CORS)
	if err != nil {
		return nil, err
	}

	rl := newRateLimiter(cfg.RateLimit)
	handlerChain := http.Handler(router)
	handlerChain = rateLimitMiddleware(rl, handlerChain)
	handlerChain = corsMiddleware(corsHandler, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger: logger,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			return []any{"remote_ip", extractClientIP(r)}
		},
	})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Handler exposes the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled and then drains in-flight requests for
// at most shutdownTimeout. onReady receives the bound address.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration, onReady func(net.Addr)) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	err := serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		ShutdownTimeout: shutdownTimeout,
		Logger:          s.logger,
		OnReady:         onReady,
	})
	if closeErr := s.rateLimiter.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.rateLimiter.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// methodNotAllowedHandler answers 405 with an Allow header listing the
// methods the matched path accepts.
func methodNotAllowedHandler(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := make([]string, 0, len(probeMethods))
		for _, method := range probeMethods {
			probe := r.Clone(r.Context())
			probe.Method = method
			var match mux.RouteMatch
			if router.Match(probe, &match) && match.MatchErr == nil {
				allowed = append(allowed, method)
			}
		}
		allowed = append(allowed, http.MethodOptions)
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeMiddlewareError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %q not allowed.", r.Method))
	})
}

func auditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		logging.WithContext(r.Context(), logger).Info("audit",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func loggerFor(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), nil)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
