package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/cors"
)

// CORSConfig lists the frontend origins allowed to call the API with
// credentials. An empty list leaves only same-origin requests working.
type CORSConfig struct {
	AllowedOrigins []string
	MaxAgeSeconds  int
}

func normalizeOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", nil
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("origin must include scheme and host")
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host)), nil
}

// newCORS returns nil when no origins are configured.
func newCORS(cfg CORSConfig) (*cors.Cors, error) {
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		normalized, err := normalizeOrigin(origin)
		if err != nil {
			return nil, fmt.Errorf("parse origin %q: %w", origin, err)
		}
		if normalized != "" {
			origins = append(origins, normalized)
		}
	}
	if len(origins) == 0 {
		return nil, nil
	}
	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = 600
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id", "X-CSRFToken"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           maxAge,
	}), nil
}

func corsMiddleware(c *cors.Cors, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return c.Handler(next)
}
