package middleware

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/devicestore"
	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/service"
	"github.com/harmoni/backend/pkg/crypto"
)

var errProviderDown = errors.New("dial tcp: connection refused")

type stubIdentity struct {
	mu     sync.Mutex
	tokens map[string]domain.Identity
	err    error
}

func (s *stubIdentity) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	return nil, domain.ErrInvalidCredentials
}

func (s *stubIdentity) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, *domain.Identity, error) {
	return nil, nil, domain.ErrAlreadyRegistered
}

func (s *stubIdentity) SignOut(ctx context.Context, accessToken string) error { return nil }

func (s *stubIdentity) GetUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	id, ok := s.tokens[accessToken]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return &id, nil
}

func (s *stubIdentity) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	return nil, domain.ErrInvalidToken
}

type stubUsers struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (s *stubUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *stubUsers) Create(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return domain.ErrUserExists
	}
	s.users[u.ID] = *u
	return nil
}

type authFixture struct {
	idp      *stubIdentity
	users    *stubUsers
	sessions *service.Sessions
	auth     *Authenticator
}

// newAuthFixture knows two tokens: "paid-token" for a paid user and
// "pending-token" for a pending one.
func newAuthFixture() *authFixture {
	idp := &stubIdentity{tokens: map[string]domain.Identity{
		"paid-token":    {ID: "u-paid", Email: "paid@harmoni.app"},
		"pending-token": {ID: "u-pending", Email: "pending@harmoni.app"},
	}}
	users := &stubUsers{users: map[string]domain.User{
		"u-paid":    {ID: "u-paid", Email: "paid@harmoni.app", PaymentStatus: domain.PaymentPaid, Plan: "premium-monthly"},
		"u-pending": {ID: "u-pending", Email: "pending@harmoni.app", PaymentStatus: domain.PaymentPending, Plan: domain.FreePlanID},
	}}
	enc, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	if err != nil {
		panic(err)
	}
	log := zap.NewNop()
	sessions := service.NewSessions(service.SessionsConfig{
		Identity: idp,
		Profiles: service.NewProfileResolver(users, log),
		Store:    devicestore.NewMemory(),
		Sealer:   enc,
		Hub:      service.NewEntitlementHub(),
		Logger:   log,
	})
	return &authFixture{
		idp:      idp,
		users:    users,
		sessions: sessions,
		auth:     NewAuthenticator(idp, sessions, log),
	}
}
