package middleware

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/handler"
	"github.com/harmoni/backend/internal/service"
)

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/x?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: handler.CookieAccessToken, Value: "cookie"})
	assert.Equal(t, "cookie", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))
}

func TestRequiredAuth(t *testing.T) {
	f := newAuthFixture()
	var got service.SessionContext
	h := f.auth.Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = handler.Session(r.Context())
		assert.Equal(t, "u-paid", handler.UserID(r.Context()))
		assert.Equal(t, "paid-token", handler.AccessToken(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer paid-token", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	require.NotNil(t, got.User)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus())
	assert.Equal(t, domain.SourceAuthoritative, got.User.Source)
}

func TestRequiredAuthProviderDown(t *testing.T) {
	f := newAuthFixture()
	f.idp.err = errProviderDown
	h := f.auth.Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r.Header.Set("Authorization", "Bearer paid-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOptionalAuthLetsAnonymousThrough(t *testing.T) {
	f := newAuthFixture()
	calls := 0
	h := f.auth.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.False(t, handler.Session(r.Context()).Authenticated())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/plans", nil))

	r := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	r.Header.Set("Authorization", "Bearer nope")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, 2, calls)
}

func TestAuthSharesDeviceStore(t *testing.T) {
	f := newAuthFixture()
	h := Device(false)(f.auth.Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r.Header.Set(DeviceHeader, "device-1")
	r.Header.Set("Authorization", "Bearer pending-token")
	h.ServeHTTP(httptest.NewRecorder(), r)

	snap := f.sessions.For("device-1").Snapshot()
	require.True(t, snap.Authenticated())
	assert.Equal(t, "u-pending", snap.UserID())
}

func TestBearerClientsWithoutDeviceShareOneStore(t *testing.T) {
	f := newAuthFixture()
	var devices []string
	h := Device(false)(f.auth.Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		devices = append(devices, handler.DeviceID(r.Context()))
	})))
	call := func() {
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.Header.Set("Authorization", "Bearer paid-token")
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	call()
	before := runtime.NumGoroutine()
	for i := 0; i < 500; i++ {
		call()
	}

	assert.Equal(t, 1, f.sessions.Len())
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+2)
	require.Len(t, devices, 501)
	assert.Equal(t, service.UserDevice("u-paid"), devices[500])
	assert.True(t, f.sessions.For(service.UserDevice("u-paid")).Snapshot().Authenticated())
}
