package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Register mounts every endpoint on router. Account routes are public; the
// catalog and HLS routes sit behind RequireUser.
//
// Routes are registered flat with their full path so a method mismatch
// reaches the router's MethodNotAllowedHandler instead of falling through a
// subrouter as a 404.
func (h *Handler) Register(router *mux.Router) {
	// Segment names are matched as sent; resolving "../" is left to the
	// resolver, which answers 404.
	router.SkipClean(true)

	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/media/{path:.+}", h.MediaFile).Methods(http.MethodGet, http.MethodHead)

	router.HandleFunc("/api/register/", h.RegisterAccount).Methods(http.MethodPost)
	router.HandleFunc("/api/activate/{uidb64}/{token}/", h.Activate).Methods(http.MethodGet)
	router.HandleFunc("/api/login/", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/api/logout/", h.Logout).Methods(http.MethodPost)
	router.HandleFunc("/api/token/refresh/", h.RefreshToken).Methods(http.MethodPost)
	router.HandleFunc("/api/password_reset/", h.PasswordReset).Methods(http.MethodPost)
	router.HandleFunc("/api/password_confirm/{uidb64}/{token}/", h.PasswordConfirm).Methods(http.MethodPost)

	router.Handle("/api/video/", h.authenticated(h.ListVideos)).Methods(http.MethodGet)
	router.Handle("/api/video/", h.authenticated(h.CreateVideo)).Methods(http.MethodPost)
	router.Handle("/api/video/{id:[0-9]+}/", h.authenticated(h.DeleteVideo)).Methods(http.MethodDelete)
	router.Handle("/api/video/{id:[0-9]+}/{resolution}/index.m3u8", h.authenticated(h.Manifest)).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/api/video/{id:[0-9]+}/{resolution}/{segment}/", h.authenticated(h.Segment)).Methods(http.MethodGet, http.MethodHead)
}

func (h *Handler) authenticated(fn http.HandlerFunc) http.Handler {
	return h.RequireUser(fn)
}
