package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"videoflix/internal/models"
	"videoflix/internal/storage"
)

// ErrNotAuthenticated is returned when a request carries credentials that do
// not resolve to an active user.
var ErrNotAuthenticated = errors.New("not authenticated")

type contextKey string

const userContextKey contextKey = "videoflix-user"

// ContextWithUser stores the authenticated user on ctx.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the user stored by Authenticate.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// AuthenticateRequest resolves the access_token cookie. A request without the
// cookie is anonymous and yields (nil, nil). Every other failure, including a
// datastore error while loading the user, yields ErrNotAuthenticated.
func (h *Handler) AuthenticateRequest(r *http.Request) (*models.User, error) {
	raw := cookieValue(r, accessCookieName)
	if raw == "" {
		return nil, nil
	}
	claims, err := h.tokens.ParseAccess(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	user, err := h.store.GetUser(r.Context(), claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d not found", ErrNotAuthenticated, claims.UserID)
	}
	if err != nil {
		h.logger.Warn("load user for access token", "user_id", claims.UserID, "error", err)
		return nil, fmt.Errorf("%w: load user %d: %v", ErrNotAuthenticated, claims.UserID, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user %d inactive", ErrNotAuthenticated, claims.UserID)
	}
	return &user, nil
}

// RequireUser rejects anonymous and invalid requests with 401 and passes the
// user to next through the request context.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.AuthenticateRequest(r)
		switch {
		case errors.Is(err, ErrNotAuthenticated):
			h.metrics.ObserveAuth("access_rejected")
			writeDetail(w, http.StatusUnauthorized, "Not authenticated.")
			return
		case user == nil:
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), *user)))
	})
}

// requireStaff must run inside RequireUser.
func (h *Handler) requireStaff(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
		return models.User{}, false
	}
	if !user.IsStaff {
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return models.User{}, false
	}
	return user, true
}
