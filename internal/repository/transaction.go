package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harmoni/backend/internal/domain"
)

// TransactionRepository persists payment transactions and the user status
// transitions they cause.
type TransactionRepository struct {
	db    *pgxpool.Pool
	users *UserRepository
}

func NewTransactionRepository(db *pgxpool.Pool, users *UserRepository) *TransactionRepository {
	return &TransactionRepository{db: db, users: users}
}

// RecordApprovedPayment inserts a completed transaction keyed by payment id
// and, only when the row is new, marks the user paid. A user without a row is
// created paid from p.UserEmail; without an email the whole transaction rolls
// back with domain.ErrPayingUserMissing so a redelivery can still succeed.
// A redelivered payment id changes nothing.
func (r *TransactionRepository) RecordApprovedPayment(ctx context.Context, p domain.ApprovedPayment) (*domain.Confirmation, error) {
	conf := &domain.Confirmation{}
	txID := domain.NewID()

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, user_id, payment_id, plan, amount, status, payment_method, transaction_date, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (payment_id) DO NOTHING
		`, txID, p.UserID, p.PaymentID, p.Plan, p.Amount, domain.TransactionCompleted, p.PaymentMethod, p.PaidAt)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			conf.Duplicate = true
			return nil
		}
		conf.TransactionID = txID

		if !p.MarkPaid {
			return nil
		}
		tag, err = tx.Exec(ctx, `
			UPDATE users
			SET payment_status = 'paid', plan = $2, paid_until = $3, updated_at = NOW()
			WHERE id = $1
		`, p.UserID, p.Plan, p.PaidUntil)
		if err != nil {
			return fmt.Errorf("failed to mark user paid: %w", err)
		}
		if tag.RowsAffected() == 1 {
			conf.UserUpdated = true
			return nil
		}

		if p.UserEmail == "" {
			return domain.ErrPayingUserMissing
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO users (id, email, payment_status, plan, paid_until, created_at, updated_at)
			VALUES ($1, $2, 'paid', $3, $4, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE
			SET payment_status = 'paid', plan = EXCLUDED.plan, paid_until = EXCLUDED.paid_until, updated_at = NOW()
		`, p.UserID, p.UserEmail, p.Plan, p.PaidUntil)
		if err != nil {
			return fmt.Errorf("failed to create paying user: %w", err)
		}
		conf.UserUpdated = true
		conf.UserCreated = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

// ListByUser returns a user's transactions, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, COALESCE(payment_id, ''), plan, amount, status, payment_method, transaction_date, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY transaction_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.PaymentID, &t.Plan, &t.Amount, &t.Status, &t.PaymentMethod, &t.TransactionDate, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

// SetExpired moves a paid user to expired.
func (r *TransactionRepository) SetExpired(ctx context.Context, userID string) (bool, error) {
	return r.users.SetExpired(ctx, userID)
}

// ExpireLapsed expires every paid user whose paid_until is before now.
func (r *TransactionRepository) ExpireLapsed(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE users SET payment_status = 'expired', updated_at = NOW()
		WHERE payment_status = 'paid' AND paid_until IS NOT NULL AND paid_until < $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire lapsed users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect expired ids: %w", err)
	}
	return ids, nil
}
