package server

import "net/http"

const (
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "same-origin"
	defaultContentTypeOptions = "nosniff"
	defaultCrossOriginPolicy  = "same-origin"
)

// SecurityConfig controls the hardening headers added to every response.
// Zero-valued fields fall back to the defaults. The API only returns JSON and
// media, so the content security policy forbids everything.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
	ContentTypeOptions    string
	CrossOriginOpener     string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	if cfg.CrossOriginOpener == "" {
		cfg.CrossOriginOpener = defaultCrossOriginPolicy
	}
	return cfg
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", effective.ContentSecurityPolicy)
		h.Set("X-Frame-Options", effective.FrameOptions)
		h.Set("X-Content-Type-Options", effective.ContentTypeOptions)
		h.Set("Referrer-Policy", effective.ReferrerPolicy)
		h.Set("Cross-Origin-Opener-Policy", effective.CrossOriginOpener)
		next.ServeHTTP(w, r)
	})
}
