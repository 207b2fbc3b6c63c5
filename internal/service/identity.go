package service

import (
	"context"

	"github.com/harmoni/backend/internal/domain"
)

// IdentityProvider authenticates accounts and vouches for bearer tokens.
//
// Credential failures come back as the domain auth sentinels. GetUser
// returns domain.ErrInvalidToken when the token is rejected; any other error
// means the provider could not be asked.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	// SignUp returns a nil session when the account needs email confirmation.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, *domain.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*domain.Identity, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.Session, error)
}
