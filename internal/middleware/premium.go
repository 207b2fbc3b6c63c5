package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/handler"
	"github.com/harmoni/backend/internal/service"
)

// Premium guards paid-only routes. It must run after the Authenticator.
type Premium struct {
	claims        *service.ClaimIssuer
	secureCookies bool
}

// NewPremium creates a Premium guard. claims may be nil, in which case only
// the session's record decides.
func NewPremium(claims *service.ClaimIssuer, secureCookies bool) *Premium {
	return &Premium{claims: claims, secureCookies: secureCookies}
}

// Decide combines the entitlement claim the request carried with the
// session's authoritative record. Either one saying not paid denies. A claim
// signed before the record was last fetched is replaced first, so an upgrade
// or a lapse takes effect without waiting for the claim to expire.
func (p *Premium) Decide(w http.ResponseWriter, r *http.Request) service.Decision {
	sc := handler.Session(r.Context())
	client := service.ClientDecision(sc)
	if p.claims == nil {
		return client
	}
	var token string
	if c, err := r.Cookie(handler.CookieEntitlement); err == nil {
		token = c.Value
	}
	fresh, err := p.claims.Reissue(token, sc)
	if err != nil {
		zap.L().Warn("failed to reissue entitlement claim", zap.String("user_id", sc.UserID()), zap.Error(err))
	} else if fresh != "" {
		handler.SetCookie(w, handler.CookieEntitlement, fresh, p.claims.TTL(), p.secureCookies)
		replaceRequestCookie(r, handler.CookieEntitlement, fresh)
		token = fresh
	}
	return service.Combine(p.claims.Decide(token, sc.UserID()), client)
}

// RequirePremium answers 403 with the redirect target for non-paid callers.
func (p *Premium) RequirePremium(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := p.Decide(w, r)
		if !d.Allowed() {
			handler.JSON(w, http.StatusForbidden, map[string]string{
				"error":    "Assinatura premium necessária",
				"redirect": d.Location,
				"reason":   d.Reason,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireFeature guards a single premium feature. A feature named by the
// {feature} URL parameter is checked when f is empty.
func (p *Premium) RequireFeature(f service.Feature) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			feature := f
			if feature == "" {
				parsed, ok := service.ParseFeature(chi.URLParam(r, "feature"))
				if !ok {
					handler.JSON(w, http.StatusNotFound, map[string]string{"error": "unknown feature"})
					return
				}
				feature = parsed
			}

			res := service.FeatureAccess(handler.Session(r.Context()), feature)
			d := p.Decide(w, r)
			if !res.HasAccess || !d.Allowed() {
				res.HasAccess = false
				res.RequiresUpgrade = true
				handler.JSON(w, http.StatusForbidden, map[string]any{
					"error":    "Assinatura premium necessária",
					"redirect": service.SubscriptionPath,
					"access":   res,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PremiumPage redirects non-paid callers of a page to the subscription page.
func (p *Premium) PremiumPage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := p.Decide(w, r); !d.Allowed() {
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}
