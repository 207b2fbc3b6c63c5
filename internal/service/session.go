package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/devicestore"
	"github.com/harmoni/backend/internal/domain"
)

// DefaultUserMaxAge bounds how long an adopted session trusts its cached
// user record before re-reading it.
const DefaultUserMaxAge = 30 * time.Second

// DefaultIdleTTL is how long an unused SessionStore stays in memory.
const DefaultIdleTTL = 30 * time.Minute

// UserDevice is the store key for callers that present no device id.
func UserDevice(userID string) string {
	return "user:" + userID
}

// SessionContext is the explicit per-request view of who is signed in and
// what the store last said about them.
type SessionContext struct {
	Session *domain.Session    `json:"session,omitempty"`
	User    *domain.UserRecord `json:"user,omitempty"`
	// FetchedAt is when User was last read from the profile store.
	FetchedAt time.Time `json:"-"`
}

// Authenticated reports whether a session is present.
func (sc SessionContext) Authenticated() bool {
	return sc.Session != nil
}

// UserID returns the signed-in identity id, or "".
func (sc SessionContext) UserID() string {
	return sc.Session.UserID()
}

// PaymentStatus returns the cached status, pending when unknown.
func (sc SessionContext) PaymentStatus() domain.PaymentStatus {
	if sc.User == nil {
		return domain.PaymentPending
	}
	return sc.User.User.PaymentStatus
}

// AuthListener is notified of authentication state changes.
type AuthListener func(event domain.AuthEvent, sc SessionContext)

// Sealer encrypts values kept in the device store.
type Sealer interface {
	Seal(v any) (string, error)
	Open(sealed string, v any) error
}

type sessionDeps struct {
	idp        IdentityProvider
	profiles   *ProfileResolver
	store      devicestore.Store
	flag       *LocalFlag
	sealer     Sealer
	hub        *EntitlementHub
	log        *zap.Logger
	userMaxAge time.Duration
	now        func() time.Time
}

// SessionStore holds the authentication state of one device.
type SessionStore struct {
	device string
	deps   *sessionDeps

	mu        sync.Mutex
	session   *domain.Session
	user      *domain.UserRecord
	fetchedAt time.Time
	listeners map[int]AuthListener
	nextID    int
	unwatch   func()
	watching  string
	lastUsed  time.Time
}

// SignIn authenticates and loads the user record.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	sess, err := s.deps.idp.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.establish(ctx, sess, domain.AuthEventSignedIn)
	return sess, nil
}

// SignUp creates an account. When the provider signs the account in right
// away the store behaves as after SignIn.
func (s *SessionStore) SignUp(ctx context.Context, email, password, name string) (*domain.SignUpResult, error) {
	if len(password) < domain.MinPasswordLength {
		return nil, domain.ErrWeakPassword
	}
	var metadata map[string]any
	if name != "" {
		metadata = map[string]any{"name": name}
	}

	sess, _, err := s.deps.idp.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return &domain.SignUpResult{NeedsEmailConfirmation: true}, nil
	}
	s.establish(ctx, sess, domain.AuthEventSignedIn)
	return &domain.SignUpResult{Session: sess}, nil
}

// SignOut drops the session and every device-local mirror.
func (s *SessionStore) SignOut(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.user = nil
	s.fetchedAt = time.Time{}
	s.stopWatchLocked()
	s.mu.Unlock()

	if sess != nil {
		if err := s.deps.idp.SignOut(ctx, sess.AccessToken); err != nil {
			s.deps.log.Warn("provider sign-out failed", zap.String("device", s.device), zap.Error(err))
		}
	}
	clearErr := s.deps.flag.Clear(ctx, s.device)

	s.emit(domain.AuthEventSignedOut, SessionContext{})
	if clearErr != nil {
		return fmt.Errorf("failed to clear device state: %w", clearErr)
	}
	return nil
}

// GetSession returns the live session, restoring the persisted one when the
// store was just created. It returns nil, nil when signed out.
func (s *SessionStore) GetSession(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	cur := s.session
	s.mu.Unlock()

	if cur != nil {
		if cur.Expired(s.deps.now()) && cur.RefreshToken != "" {
			return s.RefreshSession(ctx)
		}
		return cur, nil
	}
	return s.restore(ctx)
}

func (s *SessionStore) restore(ctx context.Context) (*domain.Session, error) {
	raw, ok, err := s.deps.store.Get(ctx, s.device, KeySession)
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var sess domain.Session
	if err := s.deps.sealer.Open(raw, &sess); err != nil {
		s.deps.log.Warn("discarding unreadable persisted session", zap.String("device", s.device), zap.Error(err))
		_ = s.deps.store.Delete(ctx, s.device, KeySession)
		return nil, nil
	}

	if sess.Expired(s.deps.now()) {
		if sess.RefreshToken == "" {
			_ = s.deps.store.Delete(ctx, s.device, KeySession)
			return nil, nil
		}
		fresh, err := s.deps.idp.Refresh(ctx, sess.RefreshToken)
		if errors.Is(err, domain.ErrInvalidToken) {
			_ = s.deps.store.Delete(ctx, s.device, KeySession)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if fresh.Identity.ID == "" {
			fresh.Identity = sess.Identity
		}
		s.establish(ctx, fresh, domain.AuthEventTokenRefreshed)
		return fresh, nil
	}

	identity, err := s.deps.idp.GetUser(ctx, sess.AccessToken)
	if errors.Is(err, domain.ErrInvalidToken) {
		_ = s.deps.store.Delete(ctx, s.device, KeySession)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.Identity = *identity
	s.install(ctx, &sess)
	return &sess, nil
}

// OnAuthStateChange registers listener and returns a func that removes it.
func (s *SessionStore) OnAuthStateChange(listener AuthListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]AuthListener)
	}
	s.nextID++
	id := s.nextID
	s.listeners[id] = listener
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// RefreshUserData re-reads the user record for the current session.
func (s *SessionStore) RefreshUserData(ctx context.Context) (domain.UserRecord, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return domain.UserRecord{}, domain.ErrNoSession
	}

	rec := s.deps.profiles.FetchOrCreate(ctx, sess.Identity)

	s.mu.Lock()
	if s.session == nil || s.session.UserID() != sess.UserID() {
		s.mu.Unlock()
		return rec, domain.ErrNoSession
	}
	s.user = &rec
	s.fetchedAt = s.deps.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.mirror(ctx, rec)
	s.emit(domain.AuthEventUserUpdated, snap)
	return rec, nil
}

// RefreshSession exchanges the refresh token for new tokens.
func (s *SessionStore) RefreshSession(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	cur := s.session
	s.mu.Unlock()
	if cur == nil || cur.RefreshToken == "" {
		return nil, domain.ErrNoSession
	}

	fresh, err := s.deps.idp.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return nil, err
	}
	if fresh.Identity.ID == "" {
		fresh.Identity = cur.Identity
	}

	s.mu.Lock()
	s.session = fresh
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, fresh)
	s.emit(domain.AuthEventTokenRefreshed, snap)
	return fresh, nil
}

// Adopt binds a bearer token the device presented, already verified by the
// identity provider, to this store. A token for the current user keeps the
// cached record while it is younger than the configured max age.
func (s *SessionStore) Adopt(ctx context.Context, token string, identity domain.Identity) SessionContext {
	s.mu.Lock()
	cur := s.session
	fresh := s.user != nil && s.deps.now().Sub(s.fetchedAt) < s.deps.userMaxAge
	s.mu.Unlock()

	if cur == nil || cur.UserID() != identity.ID {
		s.establish(ctx, &domain.Session{AccessToken: token, Identity: identity}, domain.AuthEventSignedIn)
		return s.Snapshot()
	}

	if cur.AccessToken != token {
		next := *cur
		next.AccessToken = token
		next.Identity = identity
		s.mu.Lock()
		s.session = &next
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.persist(ctx, &next)
		s.emit(domain.AuthEventTokenRefreshed, snap)
	}

	if !fresh {
		_, _ = s.RefreshUserData(ctx)
	}
	return s.Snapshot()
}

// Snapshot returns a copy of the current state.
func (s *SessionStore) Snapshot() SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *SessionStore) snapshotLocked() SessionContext {
	var sc SessionContext
	if s.session != nil {
		sess := *s.session
		sc.Session = &sess
	}
	if s.user != nil {
		rec := *s.user
		sc.User = &rec
		sc.FetchedAt = s.fetchedAt
	}
	return sc
}

// establish installs sess, persists it and announces event.
func (s *SessionStore) establish(ctx context.Context, sess *domain.Session, event domain.AuthEvent) {
	snap := s.install(ctx, sess)
	s.persist(ctx, sess)
	s.emit(event, snap)
}

func (s *SessionStore) install(ctx context.Context, sess *domain.Session) SessionContext {
	rec := s.deps.profiles.FetchOrCreate(ctx, sess.Identity)

	s.mu.Lock()
	s.session = sess
	s.user = &rec
	s.fetchedAt = s.deps.now()
	s.watchLocked(sess.UserID())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.mirror(ctx, rec)
	return snap
}

func (s *SessionStore) persist(ctx context.Context, sess *domain.Session) {
	sealed, err := s.deps.sealer.Seal(sess)
	if err == nil {
		err = s.deps.store.Set(ctx, s.device, KeySession, sealed)
	}
	if err != nil {
		s.deps.log.Warn("failed to persist session", zap.String("device", s.device), zap.Error(err))
	}
}

func (s *SessionStore) mirror(ctx context.Context, rec domain.UserRecord) {
	if err := s.deps.flag.Mirror(ctx, s.device, rec.User.PaymentStatus); err != nil {
		s.deps.log.Warn("failed to mirror entitlement", zap.String("device", s.device), zap.Error(err))
	}
}

// watchLocked subscribes to entitlement changes for userID so a confirmed
// payment refreshes the cached record.
func (s *SessionStore) watchLocked(userID string) {
	if s.deps.hub == nil || s.watching == userID {
		return
	}
	s.stopWatchLocked()

	s.unwatch = s.deps.hub.Watch(userID, func(EntitlementChange) {
		if _, err := s.RefreshUserData(context.Background()); err != nil && !errors.Is(err, domain.ErrNoSession) {
			s.deps.log.Warn("entitlement refresh failed", zap.String("user_id", userID), zap.Error(err))
		}
	})
	s.watching = userID
}

func (s *SessionStore) stopWatchLocked() {
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	s.watching = ""
}

func (s *SessionStore) emit(event domain.AuthEvent, sc SessionContext) {
	s.mu.Lock()
	listeners := make([]AuthListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(event, sc)
	}
}

// Sessions owns one SessionStore per device. Stores unused for the idle TTL
// and without listeners are dropped; their persisted state stays in the
// device store and is restored on the next request.
type Sessions struct {
	deps      *sessionDeps
	idleTTL   time.Duration
	mu        sync.Mutex
	stores    map[string]*SessionStore
	lastSweep time.Time
}

// SessionsConfig wires the shared dependencies of every SessionStore.
type SessionsConfig struct {
	Identity   IdentityProvider
	Profiles   *ProfileResolver
	Store      devicestore.Store
	Flag       *LocalFlag
	Sealer     Sealer
	Hub        *EntitlementHub
	Logger     *zap.Logger
	UserMaxAge time.Duration
	IdleTTL    time.Duration
}

func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.UserMaxAge <= 0 {
		cfg.UserMaxAge = DefaultUserMaxAge
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Flag == nil {
		cfg.Flag = NewLocalFlag(cfg.Store)
	}
	return &Sessions{
		deps: &sessionDeps{
			idp:        cfg.Identity,
			profiles:   cfg.Profiles,
			store:      cfg.Store,
			flag:       cfg.Flag,
			sealer:     cfg.Sealer,
			hub:        cfg.Hub,
			log:        cfg.Logger,
			userMaxAge: cfg.UserMaxAge,
			now:        time.Now,
		},
		idleTTL: cfg.IdleTTL,
		stores:  make(map[string]*SessionStore),
	}
}

// For returns the store for device, creating it on first use.
func (m *Sessions) For(device string) *SessionStore {
	now := m.deps.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastSweep) >= m.idleTTL/4 {
		m.sweepLocked(now)
	}
	s, ok := m.stores[device]
	if !ok {
		s = &SessionStore{device: device, deps: m.deps}
		m.stores[device] = s
	}
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
	return s
}

// Len returns the number of stores held in memory.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

func (m *Sessions) sweepLocked(now time.Time) {
	m.lastSweep = now
	for device, s := range m.stores {
		s.mu.Lock()
		if len(s.listeners) == 0 && now.Sub(s.lastUsed) >= m.idleTTL {
			s.stopWatchLocked()
			delete(m.stores, device)
		}
		s.mu.Unlock()
	}
}

// Evict forgets the device's in-memory store. Persisted state is kept.
func (m *Sessions) Evict(device string) {
	m.mu.Lock()
	s, ok := m.stores[device]
	delete(m.stores, device)
	m.mu.Unlock()
	if ok {
		s.mu.Lock()
		s.stopWatchLocked()
		s.mu.Unlock()
	}
}
