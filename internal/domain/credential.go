package domain

import "time"

// Credential is a password login for the built-in identity provider.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	Confirmed    bool
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Identity returns the auth-side view of the credential.
func (c *Credential) Identity() Identity {
	return Identity{
		ID:             c.UserID,
		Email:          c.Email,
		EmailConfirmed: c.Confirmed,
		Metadata:       c.Metadata,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.CreatedAt,
	}
}
