package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/service"
)

// AccessHandler reports entitlement decisions to the app.
type AccessHandler struct {
	claims        *service.ClaimIssuer
	flag          *service.LocalFlag
	log           *zap.Logger
	secureCookies bool
}

func NewAccessHandler(claims *service.ClaimIssuer, flag *service.LocalFlag, log *zap.Logger, secureCookies bool) *AccessHandler {
	return &AccessHandler{claims: claims, flag: flag, log: log, secureCookies: secureCookies}
}

// Access handles GET /api/access.
func (h *AccessHandler) Access(w http.ResponseWriter, r *http.Request) {
	sc := Session(r.Context())
	JSON(w, http.StatusOK, map[string]any{
		"decision":      service.ClientDecision(sc),
		"paymentStatus": sc.PaymentStatus(),
		"degraded":      sc.User != nil && sc.User.IsDegraded(),
	})
}

// Feature handles GET /api/access/features/{feature}.
func (h *AccessHandler) Feature(w http.ResponseWriter, r *http.Request) {
	f, ok := service.ParseFeature(chi.URLParam(r, "feature"))
	if !ok {
		Error(w, domain.ErrNotFound("unknown feature"))
		return
	}
	JSON(w, http.StatusOK, service.FeatureAccess(Session(r.Context()), f))
}

// Entitlement handles GET /api/entitlement: a fresh signed claim for the
// caller's current record.
func (h *AccessHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	sc := Session(r.Context())
	if sc.User == nil {
		Error(w, domain.ErrNoSession)
		return
	}
	token, err := h.claims.Issue(sc.User.User)
	if err != nil {
		Error(w, domain.ErrInternal("failed to issue entitlement", err))
		return
	}
	SetCookie(w, CookieEntitlement, token, h.claims.TTL(), h.secureCookies)
	JSON(w, http.StatusOK, map[string]any{
		"token":         token,
		"paymentStatus": sc.User.User.PaymentStatus,
		"plan":          sc.User.User.Plan,
		"expiresIn":     int(h.claims.TTL().Seconds()),
	})
}

// Shell handles GET /api/shell: the device hint plus the authoritative
// paywall decision once a session is known.
func (h *AccessHandler) Shell(w http.ResponseWriter, r *http.Request) {
	hint, err := h.flag.Read(r.Context(), DeviceID(r.Context()))
	if err != nil {
		h.log.Warn("failed to read device hint", zap.Error(err))
		hint = service.LocalHint{}
	}
	JSON(w, http.StatusOK, service.Shell(hint, Session(r.Context())))
}
