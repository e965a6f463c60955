package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"videoflix/internal/auth"
	"videoflix/internal/storage"
)

func TestRegisterCreatesInactiveUserAndSendsActivation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postJSON("/api/register/", `{"email":"new@example.com","password":"supersecret","confirmed_password":"supersecret","extra":"ignored"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body registerResponse
	decodeBody(t, rec, &body)
	if body.User.Email != "new@example.com" || body.User.ID == 0 || body.Token == "" {
		t.Fatalf("unexpected register body %+v", body)
	}

	user, err := env.store.GetUser(context.Background(), body.User.ID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if user.IsActive {
		t.Fatal("expected new account to be inactive")
	}
	if len(env.mailer.activations) != 1 {
		t.Fatalf("expected one activation email, got %d", len(env.mailer.activations))
	}
	sent := env.mailer.activations[0]
	if sent.token != body.Token || sent.uid != auth.EncodeUID(user.ID) {
		t.Fatalf("activation email carries %+v, response token %q", sent, body.Token)
	}
	wantHeader := "/api/activate/" + sent.uid + "/" + sent.token + "/"
	if got := rec.Header().Get("X-Debug-Activation-Backend"); got != wantHeader {
		t.Fatalf("expected debug header %q, got %q", wantHeader, got)
	}
	if env.metrics.AuthCount("register") != 1 {
		t.Fatal("expected register to be counted")
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "Taken@Example.com", true, false)

	tests := []struct {
		name  string
		body  string
		field string
		msg   string
	}{
		{"mismatch", `{"email":"a@example.com","password":"supersecret","confirmed_password":"different1"}`, "non_field_errors", "Passwords do not match."},
		{"short password", `{"email":"a@example.com","password":"short","confirmed_password":"short"}`, "password", "Ensure this field has at least 8 characters."},
		{"bad email", `{"email":"not-an-email","password":"supersecret","confirmed_password":"supersecret"}`, "email", "Enter a valid email address."},
		{"blank email", `{"email":"  ","password":"supersecret","confirmed_password":"supersecret"}`, "email", "This field may not be blank."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON("/api/register/", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var body map[string][]string
			decodeBody(t, rec, &body)
			if len(body[tt.field]) == 0 || body[tt.field][0] != tt.msg {
				t.Fatalf("expected %s error %q, got %v", tt.field, tt.msg, body)
			}
		})
	}

	t.Run("duplicate email ignores case", func(t *testing.T) {
		rec := env.postJSON("/api/register/", `{"email":"taken@example.com","password":"supersecret","confirmed_password":"supersecret"}`)
		expectDetail(t, rec, http.StatusBadRequest, msgCheckInput)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := env.postJSON("/api/register/", `{"email":`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	if len(env.mailer.activations) != 0 {
		t.Fatalf("expected no activation emails, got %d", len(env.mailer.activations))
	}
}

func TestActivate(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "pending@example.com", false, false)
	uid := auth.EncodeUID(user.ID)
	token := env.oneTime.Make(auth.PurposeActivation, user)

	rec := env.do(http.MethodGet, "/api/activate/"+uid+"/"+token+"/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "Account successfully activated." {
		t.Fatalf("unexpected body %v", body)
	}
	activated, err := env.store.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if !activated.IsActive {
		t.Fatal("expected account to be active")
	}

	failures := map[string]string{
		"reused token":  "/api/activate/" + uid + "/" + token + "/",
		"unknown user":  "/api/activate/" + auth.EncodeUID(999) + "/" + token + "/",
		"undecodable":   "/api/activate/!!!/" + token + "/",
		"garbage token": "/api/activate/" + uid + "/abc-def/",
	}
	for name, target := range failures {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodGet, target, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["message"] != "Activation failed." {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}

func TestLoginSetsCookies(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "viewer@example.com", true, false)

	rec := env.postJSON("/api/login/", `{"email":"VIEWER@example.com","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body loginResponse
	decodeBody(t, rec, &body)
	if body.Detail != "Login successful" || body.User.ID != user.ID || body.User.Username != user.Email {
		t.Fatalf("unexpected login body %+v", body)
	}

	access := responseCookie(rec, accessCookieName)
	refresh := responseCookie(rec, refreshCookieName)
	if access == nil || refresh == nil {
		t.Fatalf("expected both cookies, got %v", rec.Result().Cookies())
	}
	if !access.HttpOnly || !access.Secure || access.SameSite != http.SameSiteNoneMode || access.Path != "/" {
		t.Fatalf("unexpected access cookie attributes %+v", access)
	}
	if access.MaxAge != int(auth.DefaultAccessTTL.Seconds()) || refresh.MaxAge != int(auth.DefaultRefreshTTL.Seconds()) {
		t.Fatalf("unexpected cookie max ages %d/%d", access.MaxAge, refresh.MaxAge)
	}
	claims, err := env.tokens.ParseAccess(access.Value)
	if err != nil {
		t.Fatalf("ParseAccess returned error: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("expected token for user %d, got %d", user.ID, claims.UserID)
	}

	stored, err := env.store.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if stored.LastLogin == nil {
		t.Fatal("expected last login to be recorded")
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "viewer@example.com", true, false)
	env.createUser(t, "pending@example.com", false, false)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"wrong password", `{"email":"viewer@example.com","password":"wrong-password"}`, msgCheckInput},
		{"unknown email", `{"email":"ghost@example.com","password":"` + testPassword + `"}`, msgCheckInput},
		{"inactive", `{"email":"pending@example.com","password":"` + testPassword + `"}`, msgNotActivated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON("/api/login/", tt.body)
			expectDetail(t, rec, http.StatusBadRequest, tt.detail)
			if len(rec.Result().Cookies()) != 0 {
				t.Fatal("expected no cookies on failed login")
			}
		})
	}

	t.Run("inactive with wrong password hides state", func(t *testing.T) {
		rec := env.postJSON("/api/login/", `{"email":"pending@example.com","password":"wrong-password"}`)
		expectDetail(t, rec, http.StatusBadRequest, msgCheckInput)
	})
}

func TestRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "viewer@example.com", true, false)
	cookies := env.sessionCookies(t, user)

	t.Run("missing cookie", func(t *testing.T) {
		expectDetail(t, env.postJSON("/api/token/refresh/", ""), http.StatusBadRequest, msgRefreshMissing)
	})

	t.Run("garbage cookie", func(t *testing.T) {
		rec := env.postJSON("/api/token/refresh/", "", &http.Cookie{Name: refreshCookieName, Value: "garbage"})
		expectDetail(t, rec, http.StatusUnauthorized, msgRefreshInvalid)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		rec := env.postJSON("/api/token/refresh/", "", &http.Cookie{Name: refreshCookieName, Value: cookies[0].Value})
		expectDetail(t, rec, http.StatusUnauthorized, msgRefreshInvalid)
	})

	t.Run("valid", func(t *testing.T) {
		rec := env.postJSON("/api/token/refresh/", "", cookies[1])
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var body refreshResponse
		decodeBody(t, rec, &body)
		if body.Detail != "Token refreshed" || body.Access == "" {
			t.Fatalf("unexpected refresh body %+v", body)
		}
		access := responseCookie(rec, accessCookieName)
		if access == nil || access.Value != body.Access {
			t.Fatalf("expected access cookie to carry the new token")
		}
		if responseCookie(rec, refreshCookieName) != nil {
			t.Fatal("refresh must not rotate the refresh cookie")
		}
	})

	t.Run("blacklisted after logout", func(t *testing.T) {
		if rec := env.postJSON("/api/logout/", "", cookies[1]); rec.Code != http.StatusOK {
			t.Fatalf("expected logout 200, got %d", rec.Code)
		}
		rec := env.postJSON("/api/token/refresh/", "", cookies[1])
		expectDetail(t, rec, http.StatusUnauthorized, msgRefreshInvalid)
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "viewer@example.com", true, false)

	t.Run("missing cookie", func(t *testing.T) {
		expectDetail(t, env.postJSON("/api/logout/", ""), http.StatusBadRequest, msgRefreshMissing)
	})

	t.Run("clears cookies", func(t *testing.T) {
		rec := env.postJSON("/api/logout/", "", env.sessionCookies(t, user)...)
		expectDetail(t, rec, http.StatusOK, "Logout successful! All tokens will be deleted. Refresh token is now invalid.")
		for _, name := range []string{accessCookieName, refreshCookieName} {
			c := responseCookie(rec, name)
			if c == nil || c.Value != "" || c.MaxAge >= 0 {
				t.Fatalf("expected %s to be cleared, got %+v", name, c)
			}
		}
	})

	t.Run("invalid token still logs out", func(t *testing.T) {
		rec := env.postJSON("/api/logout/", "", &http.Cookie{Name: refreshCookieName, Value: "not-a-jwt"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "viewer@example.com", true, false)
	env.createUser(t, "pending@example.com", false, false)

	for _, email := range []string{"ghost@example.com", "pending@example.com"} {
		rec := env.postJSON("/api/password_reset/", `{"email":"`+email+`"}`)
		expectDetail(t, rec, http.StatusOK, "An email has been sent to reset your password.")
	}
	if len(env.mailer.resets) != 0 {
		t.Fatalf("expected no reset emails for unknown or inactive users, got %d", len(env.mailer.resets))
	}

	rec := env.postJSON("/api/password_reset/", `{"email":"Viewer@Example.com"}`)
	expectDetail(t, rec, http.StatusOK, "An email has been sent to reset your password.")
	sent := env.mailer.lastReset(t)
	if sent.user.ID != user.ID {
		t.Fatalf("reset email went to user %d", sent.user.ID)
	}

	confirm := "/api/password_confirm/" + sent.uid + "/" + sent.token + "/"

	rec = env.postJSON(confirm, `{"new_password":"brand-new-pass","confirm_password":"other-new-pass"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Passwords do not match.") {
		t.Fatalf("expected mismatch error, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.postJSON(confirm, `{"new_password":"brand-new-pass","confirm_password":"brand-new-pass"}`)
	expectDetail(t, rec, http.StatusOK, "Your Password has been successfully reset.")

	if _, err := storage.AuthenticateUser(context.Background(), env.store, user.Email, "brand-new-pass"); err != nil {
		t.Fatalf("AuthenticateUser with new password returned error: %v", err)
	}

	rec = env.postJSON(confirm, `{"new_password":"another-pass","confirm_password":"another-pass"}`)
	expectDetail(t, rec, http.StatusBadRequest, msgInvalidTokenUser)

	rec = env.postJSON("/api/password_confirm/"+auth.EncodeUID(999)+"/"+sent.token+"/", `{"new_password":"another-pass","confirm_password":"another-pass"}`)
	expectDetail(t, rec, http.StatusBadRequest, msgInvalidTokenUser)
}

func TestAccountRoutesIgnoreInvalidAccessCookie(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "viewer@example.com", true, false)
	rec := env.postJSON("/api/login/", `{"email":"viewer@example.com","password":"`+testPassword+`"}`,
		&http.Cookie{Name: accessCookieName, Value: "expired-or-garbage"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login to ignore stale access cookie, got %d", rec.Code)
	}
}
