package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/contextkeys"
	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/handler"
	"github.com/harmoni/backend/internal/service"
)

// TokenFromRequest returns the access token from the Authorization header,
// the session cookie or, for websocket upgrades, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if c, err := r.Cookie(handler.CookieAccessToken); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// Authenticator validates access tokens and binds them to the device's
// session store.
type Authenticator struct {
	idp      service.IdentityProvider
	sessions *service.Sessions
	log      *zap.Logger
}

func NewAuthenticator(idp service.IdentityProvider, sessions *service.Sessions, log *zap.Logger) *Authenticator {
	return &Authenticator{idp: idp, sessions: sessions, log: log}
}

// Required rejects requests without a valid token.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "no token provided"})
			return
		}
		ctx, err := a.authenticate(r.Context(), token)
		switch {
		case errors.Is(err, domain.ErrInvalidToken):
			handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		case err != nil:
			a.log.Warn("token validation unavailable", zap.Error(err))
			handler.JSON(w, http.StatusServiceUnavailable, map[string]string{"error": "auth service unavailable"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the session when a valid token is present and lets
// every request through.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, err := a.authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidToken) {
				a.log.Warn("token validation unavailable", zap.Error(err))
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (context.Context, error) {
	identity, err := a.idp.GetUser(ctx, token)
	if err != nil {
		return ctx, err
	}

	// Clients that never keep the device cookie (bearer API and mobile
	// callers) share one store per user instead of one per request.
	device := handler.DeviceID(ctx)
	if device == "" || handler.DeviceMinted(ctx) {
		device = service.UserDevice(identity.ID)
	}
	sc := a.sessions.For(device).Adopt(ctx, token, *identity)

	ctx = context.WithValue(ctx, contextkeys.DeviceID, device)
	ctx = context.WithValue(ctx, contextkeys.UserID, identity.ID)
	ctx = context.WithValue(ctx, contextkeys.UserEmail, identity.Email)
	ctx = context.WithValue(ctx, contextkeys.AccessToken, token)
	ctx = context.WithValue(ctx, contextkeys.Session, sc)
	return ctx, nil
}
