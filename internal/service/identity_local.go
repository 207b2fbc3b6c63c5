package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/harmoni/backend/internal/domain"
)

// CredentialStore persists password logins for LocalIdentity.
type CredentialStore interface {
	// FindByEmail returns nil, nil when no credential exists.
	FindByEmail(ctx context.Context, email string) (*domain.Credential, error)
	// FindByID returns nil, nil when no credential exists.
	FindByID(ctx context.Context, userID string) (*domain.Credential, error)
	// Create returns domain.ErrUserExists for a taken email.
	Create(ctx context.Context, c *domain.Credential) error
}

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	localAccessTTL  = time.Hour
	localRefreshTTL = 30 * 24 * time.Hour
)

type localClaims struct {
	Email string `json:"email,omitempty"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// LocalIdentity is the built-in identity provider used when no hosted auth
// service is configured. Accounts are confirmed at sign-up.
type LocalIdentity struct {
	jwtSecret []byte
	creds     CredentialStore
	now       func() time.Time
}

// NewLocalIdentity creates a LocalIdentity signing HS256 tokens with jwtSecret.
func NewLocalIdentity(jwtSecret string, creds CredentialStore) *LocalIdentity {
	return &LocalIdentity{
		jwtSecret: []byte(jwtSecret),
		creds:     creds,
		now:       time.Now,
	}
}

// SignIn validates credentials against the database and issues a session.
func (p *LocalIdentity) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	cred, err := p.creds.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !cred.Confirmed {
		return nil, domain.ErrEmailNotConfirmed
	}
	return p.issue(cred.Identity())
}

// SignUp creates a confirmed credential and signs the account in.
func (p *LocalIdentity) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, *domain.Identity, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, nil, domain.ErrInvalidEmail
	}
	if len(password) < domain.MinPasswordLength {
		return nil, nil, domain.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &domain.Credential{
		UserID:       domain.NewID(),
		Email:        email,
		PasswordHash: string(hash),
		Confirmed:    true,
		Metadata:     metadata,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil, nil, domain.ErrAlreadyRegistered
		}
		return nil, nil, fmt.Errorf("failed to create credential: %w", err)
	}

	identity := cred.Identity()
	sess, err := p.issue(identity)
	if err != nil {
		return nil, nil, err
	}
	return sess, &identity, nil
}

// SignOut is a no-op: local tokens are stateless and expire on their own.
func (p *LocalIdentity) SignOut(ctx context.Context, accessToken string) error {
	return nil
}

// GetUser verifies an access token and reloads its credential.
func (p *LocalIdentity) GetUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	claims, err := p.parse(accessToken, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	cred, err := p.creds.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		return nil, domain.ErrInvalidToken
	}
	identity := cred.Identity()
	return &identity, nil
}

// Refresh exchanges a refresh token for a new session.
func (p *LocalIdentity) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	claims, err := p.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	cred, err := p.creds.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		return nil, domain.ErrInvalidToken
	}
	return p.issue(cred.Identity())
}

func (p *LocalIdentity) issue(identity domain.Identity) (*domain.Session, error) {
	now := p.now()
	expires := now.Add(localAccessTTL)

	access, err := p.sign(identity, tokenTypeAccess, now, expires)
	if err != nil {
		return nil, err
	}
	refresh, err := p.sign(identity, tokenTypeRefresh, now, now.Add(localRefreshTTL))
	if err != nil {
		return nil, err
	}

	return &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expires.UTC().Truncate(time.Second),
		Identity:     identity,
	}, nil
}

func (p *LocalIdentity) sign(identity domain.Identity, typ string, now, exp time.Time) (string, error) {
	claims := localClaims{
		Email: identity.Email,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (p *LocalIdentity) parse(tokenStr, typ string) (*localClaims, error) {
	claims := &localClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return p.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if err != nil || !token.Valid || claims.Type != typ || claims.Subject == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
