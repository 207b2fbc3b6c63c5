package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/harmoni/backend/internal/contextkeys"
	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/handler"
)

// DeviceHeader lets native clients name their device explicitly.
const DeviceHeader = "X-Device-ID"

const deviceCookieAge = 365 * 24 * time.Hour

// Device resolves the caller's device id from the header or cookie, minting
// one when neither is usable. A minted id is flagged in the context so the
// authenticator can fall back to a per-user store.
func Device(secureCookies bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(DeviceHeader)
			if !validDeviceID(id) {
				id = ""
				if c, err := r.Cookie(handler.CookieDevice); err == nil && validDeviceID(c.Value) {
					id = c.Value
				}
			}
			ctx := r.Context()
			if id == "" {
				id = domain.NewID()
				handler.SetCookie(w, handler.CookieDevice, id, deviceCookieAge, secureCookies)
				ctx = context.WithValue(ctx, contextkeys.DeviceMinted, true)
			}
			ctx = context.WithValue(ctx, contextkeys.DeviceID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validDeviceID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
