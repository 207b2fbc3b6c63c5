package handler

import (
	"net/http"
	"time"
)

// Cookie names shared by the edge gate and the API.
const (
	CookieAccessToken = "sb-access-token"
	CookieDevice      = "harmoni-device"
	CookieEntitlement = "harmoni-entitlement"
)

// SetCookie writes an HttpOnly, SameSite=Lax cookie scoped to the whole site.
func SetCookie(w http.ResponseWriter, name, value string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires name.
func ClearCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
