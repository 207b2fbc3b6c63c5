package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmoni/backend/internal/devicestore"
	"github.com/harmoni/backend/internal/domain"
)

func TestLocalFlagLifecycle(t *testing.T) {
	ctx := context.Background()
	store := devicestore.NewMemory()
	f := NewLocalFlag(store)
	f.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	hint, err := f.Read(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, hint.Present)

	require.NoError(t, f.ChooseFree(ctx, "dev-1"))
	hint, err = f.Read(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, hint.Present)
	assert.False(t, hint.Premium)
	assert.Equal(t, "free", hint.Plan)

	require.NoError(t, f.RecordPendingPlan(ctx, "dev-1", "premium-yearly"))
	hint, _ = f.Read(ctx, "dev-1")
	assert.Equal(t, "premium-yearly", hint.PendingPlan)

	require.NoError(t, f.RecordPaymentSuccess(ctx, "dev-1", ""))
	hint, _ = f.Read(ctx, "dev-1")
	assert.False(t, hint.Premium, "no external reference, nothing written")

	require.NoError(t, f.RecordPaymentSuccess(ctx, "dev-1", "premium-yearly"))
	hint, _ = f.Read(ctx, "dev-1")
	assert.True(t, hint.Premium)
	assert.Equal(t, "premium-yearly", hint.Plan)
	assert.Equal(t, "2026-03-01T12:00:00Z", hint.PaymentDate)
	assert.Empty(t, hint.PendingPlan)

	require.NoError(t, f.Clear(ctx, "dev-1"))
	hint, _ = f.Read(ctx, "dev-1")
	assert.False(t, hint.Present)
}

func TestLocalFlagMirrorsOnlyPaid(t *testing.T) {
	ctx := context.Background()
	f := NewLocalFlag(devicestore.NewMemory())

	require.NoError(t, f.Mirror(ctx, "dev-1", domain.PaymentPending))
	hint, _ := f.Read(ctx, "dev-1")
	assert.False(t, hint.Present)

	require.NoError(t, f.Mirror(ctx, "dev-1", domain.PaymentPaid))
	hint, _ = f.Read(ctx, "dev-1")
	assert.True(t, hint.Premium)
}

func TestShellHintIsProvisional(t *testing.T) {
	state := Shell(LocalHint{Present: true, Premium: true}, SessionContext{})
	assert.True(t, state.Provisional)
	assert.False(t, state.ShowPaywall)

	// The authoritative record wins over a stale hint.
	state = Shell(LocalHint{Present: true, Premium: true}, signedIn(domain.PaymentPending))
	assert.False(t, state.Provisional)
	assert.True(t, state.ShowPaywall)

	state = Shell(LocalHint{}, signedIn(domain.PaymentPaid))
	assert.False(t, state.ShowPaywall)
}

func TestClaimIssueVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClaimIssuer("claim-secret", 5*time.Minute)
	c.now = func() time.Time { return now }

	token, err := c.Issue(domain.User{ID: "user-1", PaymentStatus: domain.PaymentPaid, Plan: "premium-monthly"})
	require.NoError(t, err)

	claims, err := c.Verify(token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, claims.PaymentStatus)
	assert.Equal(t, "premium-monthly", claims.Plan)

	_, err = c.Verify(token, "user-2")
	assert.ErrorIs(t, err, ErrInvalidClaim)

	other := NewClaimIssuer("other-secret", 5*time.Minute)
	other.now = c.now
	_, err = other.Verify(token, "user-1")
	assert.ErrorIs(t, err, ErrInvalidClaim)

	c.now = func() time.Time { return now.Add(6 * time.Minute) }
	_, err = c.Verify(token, "user-1")
	assert.ErrorIs(t, err, ErrInvalidClaim)
}

func TestClaimRejectsOtherAlgorithms(t *testing.T) {
	c := NewClaimIssuer("claim-secret", time.Minute)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, EntitlementClaims{
		PaymentStatus: domain.PaymentPaid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.Verify(unsigned, "user-1")
	assert.ErrorIs(t, err, ErrInvalidClaim)
}

func TestClaimDecideNeverGrantsAlone(t *testing.T) {
	c := NewClaimIssuer("claim-secret", time.Minute)
	paid, err := c.Issue(domain.User{ID: "user-1", PaymentStatus: domain.PaymentPaid})
	require.NoError(t, err)
	pending, err := c.Issue(domain.User{ID: "user-1", PaymentStatus: domain.PaymentPending})
	require.NoError(t, err)

	assert.Equal(t, ReasonNoClaim, c.Decide("", "user-1").Reason)
	assert.Equal(t, ReasonNoClaim, c.Decide("garbage", "user-1").Reason)
	assert.Equal(t, ReasonNoClaim, c.Decide(paid, "user-2").Reason)
	assert.True(t, c.Decide(paid, "user-1").Allowed())

	d := c.Decide(pending, "user-1")
	assert.False(t, d.Allowed())
	assert.Equal(t, SubscriptionPath, d.Location)

	// A paid claim combined with a pending authoritative record still denies.
	sc := SessionContext{
		Session: &domain.Session{AccessToken: "t", Identity: domain.Identity{ID: "user-1"}},
		User:    &domain.UserRecord{User: domain.User{ID: "user-1", PaymentStatus: domain.PaymentPending}},
	}
	assert.False(t, Combine(c.Decide(paid, "user-1"), ClientDecision(sc)).Allowed())
}

func TestClaimReissueAfterUpgrade(t *testing.T) {
	c := NewClaimIssuer("claim-secret", time.Hour)
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issuedAt }
	pending, err := c.Issue(domain.User{ID: "user-1", PaymentStatus: domain.PaymentPending})
	require.NoError(t, err)

	paidUser := domain.User{ID: "user-1", PaymentStatus: domain.PaymentPaid, Plan: "monthly"}
	sc := SessionContext{
		Session:   &domain.Session{AccessToken: "t", Identity: domain.Identity{ID: "user-1"}},
		User:      &domain.UserRecord{User: paidUser, Source: domain.SourceAuthoritative},
		FetchedAt: issuedAt.Add(-time.Minute),
	}

	// The record predates the claim, so the claim stands.
	fresh, err := c.Reissue(pending, sc)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	c.now = func() time.Time { return issuedAt.Add(5 * time.Minute) }
	sc.FetchedAt = issuedAt.Add(4 * time.Minute)
	fresh, err = c.Reissue(pending, sc)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)
	assert.True(t, c.Decide(fresh, "user-1").Allowed())

	// Agreeing claims and degraded records leave the claim alone.
	fresh, err = c.Reissue(fresh, sc)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	sc.User = &domain.UserRecord{User: paidUser, Source: domain.SourceDegraded}
	fresh, err = c.Reissue(pending, sc)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}
