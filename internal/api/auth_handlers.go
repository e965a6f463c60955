package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"videoflix/internal/auth"
	"videoflix/internal/models"
	"videoflix/internal/storage"

	"github.com/gorilla/mux"
)

const (
	msgCheckInput       = "Please check your input and try again."
	msgNotActivated     = "Account is not activated."
	msgRefreshMissing   = "Refresh token is missing."
	msgRefreshInvalid   = "Invalid refresh token."
	msgInvalidTokenUser = "Invalid token or user."
)

type userSummary struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type registerResponse struct {
	User  userSummary `json:"user"`
	Token string      `json:"token"`
}

type loginUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	Detail string    `json:"detail"`
	User   loginUser `json:"user"`
}

type refreshResponse struct {
	Detail string `json:"detail"`
	Access string `json:"access"`
}

func (h *Handler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := req.validate(); errs != nil {
		writeFieldErrors(w, errs)
		return
	}

	hash, err := storage.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	user, err := h.store.CreateUser(r.Context(), storage.CreateUserParams{
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
	})
	if errors.Is(err, storage.ErrDuplicateEmail) {
		writeDetail(w, http.StatusBadRequest, msgCheckInput)
		return
	}
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	uid := auth.EncodeUID(user.ID)
	token := h.oneTime.Make(auth.PurposeActivation, user)
	h.mailer.SendActivation(r.Context(), user, uid, token)
	h.metrics.ObserveAuth("register")
	h.logger.Info("user registered", "user_id", user.ID)

	w.Header().Set("X-Debug-Activation-Backend", fmt.Sprintf("/api/activate/%s/%s/", uid, token))
	writeJSON(w, http.StatusCreated, registerResponse{
		User:  userSummary{ID: user.ID, Email: user.Email},
		Token: token,
	})
}

// lookupTokenUser resolves the uidb64 path variable.
func (h *Handler) lookupTokenUser(r *http.Request) (models.User, error) {
	id, err := auth.DecodeUID(mux.Vars(r)["uidb64"])
	if err != nil {
		return models.User{}, storage.ErrNotFound
	}
	return h.store.GetUser(r.Context(), id)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	user, err := h.lookupTokenUser(r)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("load user for activation", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if err != nil || !h.oneTime.Check(auth.PurposeActivation, user, mux.Vars(r)["token"]) {
		h.metrics.ObserveAuth("activation_failed")
		writeMessage(w, http.StatusBadRequest, "Activation failed.")
		return
	}
	if _, err := h.store.ActivateUser(r.Context(), user.ID); err != nil {
		h.logger.Error("activate user", "user_id", user.ID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	h.metrics.ObserveAuth("activated")
	h.logger.Info("user activated", "user_id", user.ID)
	writeMessage(w, http.StatusOK, "Account successfully activated.")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := req.validate(); errs != nil {
		writeFieldErrors(w, errs)
		return
	}

	user, err := storage.AuthenticateUser(r.Context(), h.store, req.Email, req.Password)
	switch {
	case errors.Is(err, storage.ErrInvalidCredentials):
		h.metrics.ObserveAuth("login_failed")
		writeDetail(w, http.StatusBadRequest, msgCheckInput)
		return
	case errors.Is(err, storage.ErrInactiveAccount):
		h.metrics.ObserveAuth("login_inactive")
		writeDetail(w, http.StatusBadRequest, msgNotActivated)
		return
	case err != nil:
		h.logger.Error("authenticate user", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	pair, err := h.tokens.IssuePair(user.ID)
	if err != nil {
		h.logger.Error("issue tokens", "user_id", user.ID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if err := h.store.RecordLogin(r.Context(), user.ID, h.now()); err != nil {
		h.logger.Warn("record login", "user_id", user.ID, "error", err)
	}
	h.cookies.setAccess(w, pair.Access)
	h.cookies.setRefresh(w, pair.Refresh)
	h.metrics.ObserveAuth("login")
	writeJSON(w, http.StatusOK, loginResponse{
		Detail: "Login successful",
		User:   loginUser{ID: user.ID, Username: user.Email},
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, refreshCookieName)
	if raw == "" {
		writeDetail(w, http.StatusBadRequest, msgRefreshMissing)
		return
	}
	if err := h.tokens.Revoke(r.Context(), raw); err != nil {
		h.logger.Warn("blacklist refresh token", "error", err)
	}
	h.cookies.clear(w)
	h.metrics.ObserveAuth("logout")
	writeDetail(w, http.StatusOK, "Logout successful! All tokens will be deleted. Refresh token is now invalid.")
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, refreshCookieName)
	if raw == "" {
		writeDetail(w, http.StatusBadRequest, msgRefreshMissing)
		return
	}
	claims, err := h.tokens.ParseRefresh(r.Context(), raw)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrTokenBlacklisted) {
			h.logger.Error("verify refresh token", "error", err)
		}
		h.metrics.ObserveAuth("refresh_rejected")
		writeDetail(w, http.StatusUnauthorized, msgRefreshInvalid)
		return
	}
	access, _, err := h.tokens.IssueAccess(claims.UserID)
	if err != nil {
		h.logger.Error("issue access token", "user_id", claims.UserID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	h.cookies.setAccess(w, access)
	h.metrics.ObserveAuth("refresh")
	writeJSON(w, http.StatusOK, refreshResponse{Detail: "Token refreshed", Access: access})
}

func (h *Handler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := req.validate(); errs != nil {
		writeFieldErrors(w, errs)
		return
	}

	user, err := h.store.FindUserByEmail(r.Context(), req.Email)
	switch {
	case err == nil && user.IsActive:
		h.mailer.SendPasswordReset(r.Context(), user, auth.EncodeUID(user.ID), h.oneTime.Make(auth.PurposePasswordReset, user))
		h.metrics.ObserveAuth("password_reset_requested")
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		h.logger.Error("look up user for password reset", "error", err)
	}
	writeDetail(w, http.StatusOK, "An email has been sent to reset your password.")
}

func (h *Handler) PasswordConfirm(w http.ResponseWriter, r *http.Request) {
	var req passwordConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := req.validate(); errs != nil {
		writeFieldErrors(w, errs)
		return
	}

	user, err := h.lookupTokenUser(r)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("load user for password reset", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if err != nil || !h.oneTime.Check(auth.PurposePasswordReset, user, mux.Vars(r)["token"]) {
		h.metrics.ObserveAuth("password_reset_failed")
		writeDetail(w, http.StatusBadRequest, msgInvalidTokenUser)
		return
	}
	hash, err := storage.HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if _, err := h.store.SetPasswordHash(r.Context(), user.ID, hash); err != nil {
		h.logger.Error("set password", "user_id", user.ID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	h.metrics.ObserveAuth("password_reset")
	h.logger.Info("password reset", "user_id", user.ID)
	writeDetail(w, http.StatusOK, "Your Password has been successfully reset.")
}
