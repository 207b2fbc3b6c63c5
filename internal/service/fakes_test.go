package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/devicestore"
	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/pkg/crypto"
)

// fakeUsers is an in-memory UserStore and SubscriptionStore.
type fakeUsers struct {
	mu        sync.Mutex
	users     map[string]domain.User
	txs       []*domain.Transaction
	payments  map[string]bool
	readErr   error
	createErr error
	reads     int
	creates   int
	// onCreate runs before a create is applied, outside the lock.
	onCreate func()
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]domain.User{}, payments: map[string]bool{}}
}

func (f *fakeUsers) put(u domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeUsers) get(id string) (domain.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	return u, ok
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeUsers) Create(ctx context.Context, u *domain.User) error {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.users[u.ID]; ok {
		return domain.ErrUserExists
	}
	f.users[u.ID] = *u
	return nil
}

func (f *fakeUsers) RecordApprovedPayment(ctx context.Context, p domain.ApprovedPayment) (*domain.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payments[p.PaymentID] {
		return &domain.Confirmation{Duplicate: true}, nil
	}
	f.payments[p.PaymentID] = true
	tx := &domain.Transaction{
		ID:              domain.NewID(),
		UserID:          p.UserID,
		PaymentID:       p.PaymentID,
		Plan:            p.Plan,
		Amount:          p.Amount,
		Status:          domain.TransactionCompleted,
		PaymentMethod:   p.PaymentMethod,
		TransactionDate: p.PaidAt,
		CreatedAt:       p.PaidAt,
	}
	f.txs = append(f.txs, tx)

	conf := &domain.Confirmation{TransactionID: tx.ID}
	if p.MarkPaid {
		u, ok := f.users[p.UserID]
		if !ok {
			if p.UserEmail == "" {
				delete(f.payments, p.PaymentID)
				f.txs = f.txs[:len(f.txs)-1]
				return nil, domain.ErrPayingUserMissing
			}
			u = domain.User{ID: p.UserID, Email: p.UserEmail}
			conf.UserCreated = true
		}
		u.PaymentStatus = domain.PaymentPaid
		u.Plan = p.Plan
		u.PaidUntil = p.PaidUntil
		f.users[p.UserID] = u
		conf.UserUpdated = true
	}
	return conf, nil
}

func (f *fakeUsers) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range f.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionDate.After(out[j].TransactionDate) })
	return out, nil
}

func (f *fakeUsers) SetExpired(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.PaymentStatus != domain.PaymentPaid {
		return false, nil
	}
	u.PaymentStatus = domain.PaymentExpired
	f.users[userID] = u
	return true, nil
}

func (f *fakeUsers) ExpireLapsed(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, u := range f.users {
		if u.PaymentStatus == domain.PaymentPaid && u.PaidUntil != nil && u.PaidUntil.Before(now) {
			u.PaymentStatus = domain.PaymentExpired
			f.users[id] = u
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// fakeIdentity is a scripted IdentityProvider.
type fakeIdentity struct {
	mu         sync.Mutex
	accounts   map[string]domain.Identity // by email
	passwords  map[string]string
	tokens     map[string]domain.Identity // access token -> identity
	refresh    map[string]domain.Identity
	confirm    bool
	getUserErr error
	signOuts   int
	seq        int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		accounts:  map[string]domain.Identity{},
		passwords: map[string]string{},
		tokens:    map[string]domain.Identity{},
		refresh:   map[string]domain.Identity{},
	}
}

func (f *fakeIdentity) add(id, email, password, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[email] = domain.Identity{ID: id, Email: email, EmailConfirmed: true, Metadata: map[string]any{"name": name}}
	f.passwords[email] = password
}

func (f *fakeIdentity) issueLocked(identity domain.Identity) *domain.Session {
	f.seq++
	at := identity.ID + "-at-" + string(rune('a'+f.seq))
	rt := identity.ID + "-rt-" + string(rune('a'+f.seq))
	f.tokens[at] = identity
	f.refresh[rt] = identity
	return &domain.Session{AccessToken: at, RefreshToken: rt, ExpiresAt: time.Now().Add(time.Hour), Identity: identity}
}

func (f *fakeIdentity) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.accounts[email]
	if !ok || f.passwords[email] != password {
		return nil, domain.ErrInvalidCredentials
	}
	return f.issueLocked(identity), nil
}

func (f *fakeIdentity) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, *domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[email]; ok {
		return nil, nil, domain.ErrAlreadyRegistered
	}
	identity := domain.Identity{ID: "new-" + email, Email: email, Metadata: metadata}
	f.accounts[email] = identity
	f.passwords[email] = password
	if f.confirm {
		return nil, &identity, nil
	}
	return f.issueLocked(identity), &identity, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	delete(f.tokens, accessToken)
	return nil
}

func (f *fakeIdentity) GetUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	identity, ok := f.tokens[accessToken]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return &identity, nil
}

func (f *fakeIdentity) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.refresh[refreshToken]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	delete(f.refresh, refreshToken)
	return f.issueLocked(identity), nil
}

var errStoreDown = errors.New("connection refused")

type sessionFixture struct {
	users    *fakeUsers
	idp      *fakeIdentity
	store    *devicestore.Memory
	hub      *EntitlementHub
	sessions *Sessions
}

func newSessionFixture() *sessionFixture {
	users := newFakeUsers()
	idp := newFakeIdentity()
	store := devicestore.NewMemory()
	hub := NewEntitlementHub()
	enc, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	if err != nil {
		panic(err)
	}
	log := zap.NewNop()
	return &sessionFixture{
		users: users,
		idp:   idp,
		store: store,
		hub:   hub,
		sessions: NewSessions(SessionsConfig{
			Identity: idp,
			Profiles: NewProfileResolver(users, log),
			Store:    store,
			Sealer:   enc,
			Hub:      hub,
			Logger:   log,
		}),
	}
}
