package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmoni/backend/internal/domain"
)

type eventLog struct {
	mu     sync.Mutex
	events []domain.AuthEvent
	last   SessionContext
}

func (l *eventLog) listen(event domain.AuthEvent, sc SessionContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.last = sc
}

func (l *eventLog) snapshot() []domain.AuthEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AuthEvent(nil), l.events...)
}

func TestSignInLoadsUserAndEmits(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	s := fx.sessions.For("dev-1")

	var log eventLog
	unsubscribe := s.OnAuthStateChange(log.listen)
	defer unsubscribe()

	sess, err := s.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.UserID())

	snap := s.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, domain.PaymentPending, snap.PaymentStatus())
	assert.Equal(t, "Ana", snap.User.User.Name)
	assert.Equal(t, []domain.AuthEvent{domain.AuthEventSignedIn}, log.snapshot())

	_, ok, err := fx.store.Get(context.Background(), "dev-1", KeySession)
	require.NoError(t, err)
	assert.True(t, ok, "session is persisted")
}

func TestSignInInvalidCredentials(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")

	_, err := fx.sessions.For("dev-1").SignIn(context.Background(), "ana@example.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.False(t, fx.sessions.For("dev-1").Snapshot().Authenticated())
}

func TestSignInMirrorsPaidStatus(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	fx.users.put(domain.User{ID: "user-1", Email: "ana@example.com", PaymentStatus: domain.PaymentPaid})

	_, err := fx.sessions.For("dev-1").SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	v, ok, _ := fx.store.Get(context.Background(), "dev-1", KeyPremium)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestSignUpRejectsShortPasswordLocally(t *testing.T) {
	fx := newSessionFixture()

	_, err := fx.sessions.For("dev-1").SignUp(context.Background(), "new@example.com", "12345", "New")
	assert.ErrorIs(t, err, domain.ErrWeakPassword)
	_, exists := fx.idp.accounts["new@example.com"]
	assert.False(t, exists, "provider is never called")
}

func TestSignUpNeedsConfirmation(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.confirm = true

	res, err := fx.sessions.For("dev-1").SignUp(context.Background(), "new@example.com", "123456", "New")
	require.NoError(t, err)
	assert.True(t, res.NeedsEmailConfirmation)
	assert.False(t, fx.sessions.For("dev-1").Snapshot().Authenticated())
}

func TestSignUpWithImmediateSession(t *testing.T) {
	fx := newSessionFixture()
	s := fx.sessions.For("dev-1")

	res, err := s.SignUp(context.Background(), "new@example.com", "123456", "New")
	require.NoError(t, err)
	assert.False(t, res.NeedsEmailConfirmation)
	require.NotNil(t, res.Session)

	snap := s.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, "New", snap.User.User.Name)

	_, err = s.SignUp(context.Background(), "new@example.com", "123456", "New")
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestSignOutClearsEverything(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	ctx := context.Background()
	s := fx.sessions.For("dev-1")

	_, err := s.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	for _, key := range []string{KeyPremium, KeyProfile, KeyHealthProfile, KeyEntries, KeyJournalNotes, KeyPendingPlan} {
		require.NoError(t, fx.store.Set(ctx, "dev-1", key, "x"))
	}

	var log eventLog
	s.OnAuthStateChange(log.listen)
	require.NoError(t, s.SignOut(ctx))

	assert.False(t, s.Snapshot().Authenticated())
	assert.Equal(t, []domain.AuthEvent{domain.AuthEventSignedOut}, log.snapshot())
	assert.Equal(t, 1, fx.idp.signOuts)
	for _, key := range deviceKeys {
		_, ok, err := fx.store.Get(ctx, "dev-1", key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestGetSessionRestoresPersistedSession(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	ctx := context.Background()

	_, err := fx.sessions.For("dev-1").SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	// A new process: fresh in-memory store, same device store.
	fx.sessions.Evict("dev-1")
	restored, err := fx.sessions.For("dev-1").GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, "user-1", restored.UserID())
	assert.NotNil(t, fx.sessions.For("dev-1").Snapshot().User)
}

func TestGetSessionDropsRevokedPersistedSession(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	ctx := context.Background()

	sess, err := fx.sessions.For("dev-1").SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	fx.idp.mu.Lock()
	delete(fx.idp.tokens, sess.AccessToken)
	fx.idp.mu.Unlock()

	fx.sessions.Evict("dev-1")
	restored, err := fx.sessions.For("dev-1").GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, restored)
	_, ok, _ := fx.store.Get(ctx, "dev-1", KeySession)
	assert.False(t, ok)
}

func TestGetSessionWithoutAnything(t *testing.T) {
	fx := newSessionFixture()
	sess, err := fx.sessions.For("dev-1").GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestGetSessionUnreadablePersistedValue(t *testing.T) {
	fx := newSessionFixture()
	require.NoError(t, fx.store.Set(context.Background(), "dev-1", KeySession, "garbage"))

	sess, err := fx.sessions.For("dev-1").GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestRefreshUserDataPicksUpPayment(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	ctx := context.Background()
	s := fx.sessions.For("dev-1")

	_, err := s.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	u, _ := fx.users.get("user-1")
	u.PaymentStatus = domain.PaymentPaid
	fx.users.put(u)

	var log eventLog
	s.OnAuthStateChange(log.listen)
	rec, err := s.RefreshUserData(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, rec.User.PaymentStatus)
	assert.Equal(t, []domain.AuthEvent{domain.AuthEventUserUpdated}, log.snapshot())
}

func TestRefreshUserDataWithoutSession(t *testing.T) {
	fx := newSessionFixture()
	_, err := fx.sessions.For("dev-1").RefreshUserData(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestRefreshSessionRotatesTokens(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	ctx := context.Background()
	s := fx.sessions.For("dev-1")

	first, err := s.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	var log eventLog
	s.OnAuthStateChange(log.listen)
	next, err := s.RefreshSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, next.AccessToken)
	assert.Equal(t, []domain.AuthEvent{domain.AuthEventTokenRefreshed}, log.snapshot())

	_, err = fx.sessions.For("dev-2").RefreshSession(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	s := fx.sessions.For("dev-1")

	var log eventLog
	unsubscribe := s.OnAuthStateChange(log.listen)
	unsubscribe()

	_, err := s.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Empty(t, log.snapshot())
}

func TestListenerMayCallBackIntoStore(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	s := fx.sessions.For("dev-1")

	got := make(chan SessionContext, 1)
	s.OnAuthStateChange(func(event domain.AuthEvent, sc SessionContext) {
		got <- s.Snapshot()
	})
	_, err := s.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	select {
	case sc := <-got:
		assert.True(t, sc.Authenticated())
	case <-time.After(time.Second):
		t.Fatal("listener did not run")
	}
}

func TestEntitlementChangeRefreshesConnectedSession(t *testing.T) {
	fx := newSessionFixture()
	fx.idp.add("user-1", "ana@example.com", "secret1", "Ana")
	s := fx.sessions.For("dev-1")

	_, err := s.SignIn(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)

	updated := make(chan domain.PaymentStatus, 4)
	s.OnAuthStateChange(func(event domain.AuthEvent, sc SessionContext) {
		if event == domain.AuthEventUserUpdated {
			updated <- sc.PaymentStatus()
		}
	})

	u, _ := fx.users.get("user-1")
	u.PaymentStatus = domain.PaymentPaid
	fx.users.put(u)
	fx.hub.Publish(EntitlementChange{UserID: "user-1", PaymentStatus: domain.PaymentPaid})

	select {
	case status := <-updated:
		assert.Equal(t, domain.PaymentPaid, status)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not refreshed")
	}
}

func TestAdoptBindsVerifiedToken(t *testing.T) {
	fx := newSessionFixture()
	ctx := context.Background()
	s := fx.sessions.For("api-client")

	sc := s.Adopt(ctx, "token-1", ana)
	require.True(t, sc.Authenticated())
	assert.Equal(t, "user-1", sc.UserID())
	require.NotNil(t, sc.User)
	reads := fx.users.reads

	// Same token and a fresh record: no store round trip.
	s.Adopt(ctx, "token-1", ana)
	assert.Equal(t, reads, fx.users.reads)

	// New token for the same user rotates without a new sign-in.
	var log eventLog
	s.OnAuthStateChange(log.listen)
	sc = s.Adopt(ctx, "token-2", ana)
	assert.Equal(t, "token-2", sc.Session.AccessToken)
	assert.Equal(t, []domain.AuthEvent{domain.AuthEventTokenRefreshed}, log.snapshot())
}

func TestSessionsDropIdleStores(t *testing.T) {
	fx := newSessionFixture()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx.sessions.deps.now = func() time.Time { return now }
	ctx := context.Background()

	idle := fx.sessions.For("dev-idle")
	idle.Adopt(ctx, "token-1", ana)
	watched := fx.sessions.For("dev-watched")
	watched.Adopt(ctx, "token-1", ana)
	watched.OnAuthStateChange(func(domain.AuthEvent, SessionContext) {})
	require.Equal(t, 2, fx.sessions.Len())

	now = now.Add(DefaultIdleTTL + time.Minute)
	fx.sessions.For("dev-new")

	assert.Equal(t, 2, fx.sessions.Len(), "idle store dropped, store with a listener kept")
	assert.NotSame(t, idle, fx.sessions.For("dev-idle"))
	assert.Same(t, watched, fx.sessions.For("dev-watched"))
}

func TestAdoptDoesNotSpawnGoroutines(t *testing.T) {
	fx := newSessionFixture()
	ctx := context.Background()
	fx.sessions.For("dev-0").Adopt(ctx, "token-1", ana)

	before := runtime.NumGoroutine()
	for i := 0; i < 200; i++ {
		fx.sessions.For(fmt.Sprintf("dev-%d", i)).Adopt(ctx, "token-1", ana)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+2)
}
