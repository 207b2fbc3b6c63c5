package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harmoni/backend/internal/domain"
)

// CredentialRepository stores password logins for the built-in identity
// provider.
type CredentialRepository struct {
	db *pgxpool.Pool
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, c *domain.Credential) error {
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO credentials (user_id, email, password_hash, confirmed, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.UserID, c.Email, c.PasswordHash, c.Confirmed, metadata, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUserExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	return r.findOne(ctx, `WHERE email = $1`, email)
}

func (r *CredentialRepository) FindByID(ctx context.Context, userID string) (*domain.Credential, error) {
	return r.findOne(ctx, `WHERE user_id = $1`, userID)
}

func (r *CredentialRepository) findOne(ctx context.Context, where string, arg string) (*domain.Credential, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, email, password_hash, confirmed, metadata, created_at
		FROM credentials `+where, arg)

	var c domain.Credential
	err := row.Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.Confirmed, &c.Metadata, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	return &c, nil
}
