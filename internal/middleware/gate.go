package middleware

import (
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/handler"
	"github.com/harmoni/backend/internal/observability"
	"github.com/harmoni/backend/internal/service"
)

// GateConfig wires the edge gate.
type GateConfig struct {
	Lookup        service.StatusLookup
	Claims        *service.ClaimIssuer
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	SecureCookies bool
}

// Gate decides page requests before any page handler runs.
type Gate struct {
	cfg GateConfig
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gate{cfg: cfg}
}

// skipGate reports whether the request is not a page: API calls, static
// assets and operational endpoints.
func skipGate(p string) bool {
	switch {
	case strings.HasPrefix(p, "/api/"), p == "/api":
		return true
	case p == "/health", p == "/metrics":
		return true
	case strings.Contains(path.Base(p), "."):
		return true
	}
	return false
}

// pageToken reads the token a browser page request carries: the session
// cookie or a bearer header.
func pageToken(r *http.Request) string {
	if c, err := r.Cookie(handler.CookieAccessToken); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipGate(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		d, identity, status := service.EdgeDecision(r.Context(), r.URL.Path, pageToken(r), g.cfg.Lookup)
		g.cfg.Metrics.ObserveGate(gateLabel(d))

		switch d.Reason {
		case service.ReasonFailOpen:
			g.cfg.Logger.Warn("access gate failing open: token validation unavailable", zap.String("path", r.URL.Path))
		case service.ReasonStatusUnavailable:
			g.cfg.Logger.Warn("access gate could not read payment status", zap.String("path", r.URL.Path))
		case service.ReasonInvalidToken:
			handler.ClearCookie(w, handler.CookieAccessToken, g.cfg.SecureCookies)
			handler.ClearCookie(w, handler.CookieEntitlement, g.cfg.SecureCookies)
		case service.ReasonNotPaid:
			handler.ClearCookie(w, handler.CookieEntitlement, g.cfg.SecureCookies)
		}

		if !d.Allowed() {
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		}

		if identity != nil && status == domain.PaymentPaid && g.cfg.Claims != nil {
			claim, err := g.cfg.Claims.Issue(domain.User{ID: identity.ID, PaymentStatus: status})
			if err != nil {
				g.cfg.Logger.Error("failed to issue entitlement claim", zap.Error(err))
			} else {
				handler.SetCookie(w, handler.CookieEntitlement, claim, g.cfg.Claims.TTL(), g.cfg.SecureCookies)
				replaceRequestCookie(r, handler.CookieEntitlement, claim)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func gateLabel(d service.Decision) string {
	if d.Allowed() {
		if d.Reason == service.ReasonFailOpen {
			return observability.GateFailOpen
		}
		return observability.GateAllow
	}
	switch d.Location {
	case service.AuthPath:
		return observability.GateRedirectAuth
	case service.SubscriptionPath:
		return observability.GateRedirectSubscription
	default:
		return observability.GateRedirectHome
	}
}

// replaceRequestCookie makes downstream handlers see value for name instead
// of whatever the browser sent.
func replaceRequestCookie(r *http.Request, name, value string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != name {
			r.AddCookie(c)
		}
	}
	r.AddCookie(&http.Cookie{Name: name, Value: value})
}
