package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harmoni/backend/internal/domain"
)

func lookupReturning(status domain.PaymentStatus, err error) StatusLookup {
	return func(ctx context.Context, token string) (*domain.Identity, domain.PaymentStatus, error) {
		if err != nil {
			return nil, "", err
		}
		return &domain.Identity{ID: "user-1"}, status, nil
	}
}

func mustNotLookup(t *testing.T) StatusLookup {
	return func(ctx context.Context, token string) (*domain.Identity, domain.PaymentStatus, error) {
		t.Fatal("lookup must not be called")
		return nil, "", nil
	}
}

func TestEdgeDecision(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		path     string
		token    string
		lookup   StatusLookup
		outcome  Outcome
		location string
		reason   string
	}{
		{"auth page anonymous", "/auth", "", nil, Allow, "", ReasonPublic},
		{"auth page signed in", "/auth", "tok", nil, Redirect, "/", ReasonPublicAuthenticated},
		{"no token", "/weekly-plan", "", nil, Redirect, "/auth", ReasonNoToken},
		{"subscription page", "/subscription", "tok", nil, Allow, "", ReasonSubscriptionPage},
		{"payment return page", "/payment/pending", "tok", nil, Allow, "", ReasonSubscriptionPage},
		{"paid", "/", "tok", lookupReturning(domain.PaymentPaid, nil), Allow, "", ReasonPaid},
		{"pending", "/", "tok", lookupReturning(domain.PaymentPending, nil), Redirect, "/subscription", ReasonNotPaid},
		{"expired", "/workout-full-plan", "tok", lookupReturning(domain.PaymentExpired, nil), Redirect, "/subscription", ReasonNotPaid},
		{"invalid token", "/", "tok", lookupReturning("", domain.ErrInvalidToken), Redirect, "/auth", ReasonInvalidToken},
		{"status read failed", "/", "tok", lookupReturning("", fmt.Errorf("%w: timeout", ErrStatusUnavailable)), Redirect, "/subscription", ReasonStatusUnavailable},
		{"provider unreachable", "/", "tok", lookupReturning("", errors.New("dial tcp: refused")), Allow, "", ReasonFailOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := tt.lookup
			if lookup == nil {
				lookup = mustNotLookup(t)
			}
			d, _, _ := EdgeDecision(ctx, tt.path, tt.token, lookup)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.location, d.Location)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestNewStatusLookup(t *testing.T) {
	ctx := context.Background()
	idp := newFakeIdentity()
	idp.tokens["tok"] = domain.Identity{ID: "user-1"}
	users := newFakeUsers()
	lookup := NewStatusLookup(idp, users)

	_, status, err := lookup(ctx, "tok")
	assert.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, status, "missing row counts as pending")

	users.put(domain.User{ID: "user-1", PaymentStatus: domain.PaymentPaid})
	_, status, err = lookup(ctx, "tok")
	assert.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, status)

	_, _, err = lookup(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	users.readErr = errStoreDown
	identity, _, err := lookup(ctx, "tok")
	assert.ErrorIs(t, err, ErrStatusUnavailable)
	assert.Equal(t, "user-1", identity.ID)
}

func record(status domain.PaymentStatus) *domain.UserRecord {
	rec := domain.Authoritative(domain.User{ID: "user-1", PaymentStatus: status})
	return &rec
}

func signedIn(status domain.PaymentStatus) SessionContext {
	return SessionContext{Session: &domain.Session{Identity: domain.Identity{ID: "user-1"}}, User: record(status)}
}

func TestClientDecision(t *testing.T) {
	assert.True(t, ClientDecision(signedIn(domain.PaymentPaid)).Allowed())

	d := ClientDecision(signedIn(domain.PaymentPending))
	assert.Equal(t, "/subscription", d.Location)

	d = ClientDecision(signedIn(domain.PaymentExpired))
	assert.Equal(t, "/subscription", d.Location)

	d = ClientDecision(SessionContext{})
	assert.Equal(t, "/subscription", d.Location)
	assert.Equal(t, ReasonNoSession, d.Reason)

	degraded := domain.Degraded(domain.User{ID: "user-1", PaymentStatus: domain.PaymentPaid}, "read failed")
	d = ClientDecision(SessionContext{Session: &domain.Session{}, User: &degraded})
	assert.False(t, d.Allowed(), "degraded records are never paid")
}

func TestCombineDefaultDeny(t *testing.T) {
	ok := allow(ReasonPaid)
	deny := redirect(SubscriptionPath, ReasonNotPaid)

	assert.True(t, Combine(ok, ok).Allowed())
	assert.Equal(t, deny, Combine(ok, deny))
	assert.Equal(t, deny, Combine(deny, ok))
	assert.False(t, Combine().Allowed())
}

func TestFeatureAccess(t *testing.T) {
	for _, name := range []string{"check-in", "progress", "health", "journal", "all"} {
		f, ok := ParseFeature(name)
		assert.True(t, ok, name)

		res := FeatureAccess(signedIn(domain.PaymentPaid), f)
		assert.True(t, res.HasAccess)
		assert.True(t, res.IsPremium)
		assert.False(t, res.RequiresUpgrade)

		res = FeatureAccess(signedIn(domain.PaymentPending), f)
		assert.False(t, res.HasAccess)
		assert.True(t, res.RequiresUpgrade)
	}

	_, ok := ParseFeature("chat")
	assert.False(t, ok)
}

func TestIsPublicPath(t *testing.T) {
	assert.True(t, IsPublicPath("/auth"))
	assert.True(t, IsPublicPath("/auth/callback"))
	assert.False(t, IsPublicPath("/authors"))
	assert.False(t, IsPublicPath("/"))
}
