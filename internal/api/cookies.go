package api

import (
	"net/http"
	"time"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

// CookiePolicy controls the attributes of the JWT cookies. Secure cookies use
// SameSite=None so a frontend on another origin can send them; insecure
// development cookies fall back to SameSite=Lax, which browsers accept over
// plain HTTP.
type CookiePolicy struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (p CookiePolicy) sameSite() http.SameSite {
	if p.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (p CookiePolicy) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		seconds = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.sameSite(),
	}
}

func (p CookiePolicy) setAccess(w http.ResponseWriter, token string) {
	http.SetCookie(w, p.cookie(accessCookieName, token, p.AccessTTL))
}

func (p CookiePolicy) setRefresh(w http.ResponseWriter, token string) {
	http.SetCookie(w, p.cookie(refreshCookieName, token, p.RefreshTTL))
}

func (p CookiePolicy) clear(w http.ResponseWriter) {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		c := p.cookie(name, "", 0)
		c.Expires = time.Unix(0, 0).UTC()
		http.SetCookie(w, c)
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
