package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/pkg/gotrue"
)

// supabaseClaims is the subset of a hosted auth access token we read.
type supabaseClaims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// SupabaseIdentity delegates to the hosted auth service.
type SupabaseIdentity struct {
	client    *gotrue.Client
	jwtSecret []byte
	issuer    string
}

// NewSupabaseIdentity wraps client. When jwtSecret is set, GetUser verifies
// tokens locally instead of calling the service.
func NewSupabaseIdentity(client *gotrue.Client, projectURL, jwtSecret string) *SupabaseIdentity {
	return &SupabaseIdentity{
		client:    client,
		jwtSecret: []byte(jwtSecret),
		issuer:    strings.TrimRight(projectURL, "/") + "/auth/v1",
	}
}

func (p *SupabaseIdentity) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	tok, err := p.client.SignInWithPassword(ctx, normalizeEmail(email), password)
	if err != nil {
		return nil, mapAuthError(err)
	}
	return sessionFromToken(tok), nil
}

func (p *SupabaseIdentity) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, *domain.Identity, error) {
	res, err := p.client.SignUp(ctx, normalizeEmail(email), password, metadata)
	if err != nil {
		return nil, nil, mapAuthError(err)
	}
	if res.Session != nil {
		sess := sessionFromToken(res.Session)
		return sess, &sess.Identity, nil
	}
	if res.User == nil {
		return nil, nil, nil
	}
	identity := identityFromUser(res.User)
	return nil, &identity, nil
}

func (p *SupabaseIdentity) SignOut(ctx context.Context, accessToken string) error {
	if err := p.client.Logout(ctx, accessToken); err != nil {
		return mapAuthError(err)
	}
	return nil
}

func (p *SupabaseIdentity) GetUser(ctx context.Context, accessToken string) (*domain.Identity, error) {
	if len(p.jwtSecret) > 0 {
		return p.verifyLocally(accessToken)
	}
	u, err := p.client.GetUser(ctx, accessToken)
	if err != nil {
		var apiErr *gotrue.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	identity := identityFromUser(u)
	return &identity, nil
}

func (p *SupabaseIdentity) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	tok, err := p.client.RefreshSession(ctx, refreshToken)
	if err != nil {
		var apiErr *gotrue.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return sessionFromToken(tok), nil
}

func (p *SupabaseIdentity) verifyLocally(accessToken string) (*domain.Identity, error) {
	claims := &supabaseClaims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		return p.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(p.issuer))
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, domain.ErrInvalidToken
	}
	identity := domain.Identity{
		ID:             claims.Subject,
		Email:          claims.Email,
		EmailConfirmed: true,
		Metadata:       claims.UserMetadata,
	}
	if claims.IssuedAt != nil {
		identity.CreatedAt = claims.IssuedAt.Time
		identity.UpdatedAt = claims.IssuedAt.Time
	}
	return &identity, nil
}

func mapAuthError(err error) error {
	var apiErr *gotrue.APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		return domain.ClassifyAuthMessage(apiErr.Message)
	}
	return fmt.Errorf("auth service unavailable: %w", err)
}

func sessionFromToken(tok *gotrue.TokenResponse) *domain.Session {
	sess := &domain.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	switch {
	case tok.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tok.ExpiresAt, 0).UTC()
	case tok.ExpiresIn > 0:
		sess.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC()
	}
	if tok.User != nil {
		sess.Identity = identityFromUser(tok.User)
	}
	return sess
}

func identityFromUser(u *gotrue.User) domain.Identity {
	return domain.Identity{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
		Metadata:       u.UserMetadata,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}
