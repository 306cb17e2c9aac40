package handler

import (
	"net/http"
	"time"

	"github.com/sakif/account-service/internal/auth"
)

// CookieConfig controls the attributes of the session cookies.
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// Both tokens travel as HttpOnly cookies so page scripts cannot read them.
// MaxAge follows the token lifetime; an expired cookie and an expired token
// disappear together.
func (c CookieConfig) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c CookieConfig) setSession(w http.ResponseWriter, pair *auth.TokenPair, accessTTL, refreshTTL time.Duration) {
	c.set(w, auth.AccessTokenCookie, pair.AccessToken, accessTTL)
	c.set(w, auth.RefreshTokenCookie, pair.RefreshToken, refreshTTL)
}

func (c CookieConfig) clearSession(w http.ResponseWriter) {
	c.clear(w, auth.AccessTokenCookie)
	c.clear(w, auth.RefreshTokenCookie)
}
