package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/service"
)

// AuthHandler handles authentication HTTP endpoints. Every call acts on the
// calling device's session store.
type AuthHandler struct {
	sessions      *service.Sessions
	claims        *service.ClaimIssuer
	log           *zap.Logger
	secureCookies bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions *service.Sessions, claims *service.ClaimIssuer, log *zap.Logger, secureCookies bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, claims: claims, log: log, secureCookies: secureCookies}
}

type sessionResponse struct {
	Session     *domain.Session    `json:"session"`
	User        *domain.UserRecord `json:"user"`
	Entitlement string             `json:"entitlement,omitempty"`
}

// SignIn handles POST /api/auth/signin.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req domain.SignInRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	store := h.sessions.For(DeviceID(r.Context()))
	if _, err := store.SignIn(r.Context(), req.Email, req.Password); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, h.respond(w, store.Snapshot()))
}

// SignUp handles POST /api/auth/signup.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req domain.SignUpRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	store := h.sessions.For(DeviceID(r.Context()))
	res, err := store.SignUp(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		Error(w, err)
		return
	}
	if res.NeedsEmailConfirmation {
		JSON(w, http.StatusCreated, map[string]any{
			"needsEmailConfirmation": true,
			"message":                "Verifique seu email para confirmar a conta.",
		})
		return
	}
	JSON(w, http.StatusCreated, h.respond(w, store.Snapshot()))
}

// SignOut handles POST /api/auth/signout.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	device := DeviceID(r.Context())
	err := h.sessions.For(device).SignOut(r.Context())
	h.sessions.Evict(device)
	ClearCookie(w, CookieAccessToken, h.secureCookies)
	ClearCookie(w, CookieEntitlement, h.secureCookies)
	if err != nil {
		h.log.Warn("sign-out left device state behind", zap.Error(err))
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Session handles GET /api/auth/session. It restores a persisted session
// when this device has one.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	store := h.sessions.For(DeviceID(r.Context()))
	sess, err := store.GetSession(r.Context())
	if err != nil {
		Error(w, domain.ErrInternal("failed to restore session", err))
		return
	}
	if sess == nil {
		JSON(w, http.StatusOK, sessionResponse{})
		return
	}
	JSON(w, http.StatusOK, h.respond(w, store.Snapshot()))
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	store := h.sessions.For(DeviceID(r.Context()))
	if _, err := store.RefreshSession(r.Context()); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, h.respond(w, store.Snapshot()))
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, Session(r.Context()))
}

// RefreshMe handles POST /api/auth/me/refresh and re-reads the user record.
func (h *AuthHandler) RefreshMe(w http.ResponseWriter, r *http.Request) {
	store := h.sessions.For(DeviceID(r.Context()))
	if _, err := store.RefreshUserData(r.Context()); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, h.respond(w, store.Snapshot()))
}

// respond sets the session cookies and builds the response body.
func (h *AuthHandler) respond(w http.ResponseWriter, sc service.SessionContext) sessionResponse {
	resp := sessionResponse{Session: sc.Session, User: sc.User}
	if sc.Session == nil {
		return resp
	}

	maxAge := time.Hour
	if !sc.Session.ExpiresAt.IsZero() {
		maxAge = time.Until(sc.Session.ExpiresAt)
	}
	if maxAge > 0 {
		SetCookie(w, CookieAccessToken, sc.Session.AccessToken, maxAge, h.secureCookies)
	}

	if h.claims != nil && sc.User != nil {
		claim, err := h.claims.Issue(sc.User.User)
		if err != nil {
			h.log.Error("failed to issue entitlement claim", zap.Error(err))
			return resp
		}
		resp.Entitlement = claim
		SetCookie(w, CookieEntitlement, claim, h.claims.TTL(), h.secureCookies)
	}
	return resp
}
