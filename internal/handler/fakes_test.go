package handler

import (
	"context"
	"sync"
	"time"

	"github.com/harmoni/backend/internal/domain"
)

// memSubscriptions is an in-memory service.SubscriptionStore.
type memSubscriptions struct {
	mu       sync.Mutex
	users    map[string]domain.User
	txs      []*domain.Transaction
	payments map[string]bool
	failNext error
}

func newMemSubscriptions(users ...domain.User) *memSubscriptions {
	m := &memSubscriptions{users: map[string]domain.User{}, payments: map[string]bool{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memSubscriptions) user(id string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *memSubscriptions) put(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memSubscriptions) RecordApprovedPayment(ctx context.Context, p domain.ApprovedPayment) (*domain.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}
	if m.payments[p.PaymentID] {
		return &domain.Confirmation{Duplicate: true}, nil
	}
	m.payments[p.PaymentID] = true
	tx := &domain.Transaction{
		ID:              domain.NewID(),
		UserID:          p.UserID,
		PaymentID:       p.PaymentID,
		Plan:            p.Plan,
		Amount:          p.Amount,
		Status:          domain.TransactionCompleted,
		TransactionDate: p.PaidAt,
	}
	m.txs = append(m.txs, tx)
	conf := &domain.Confirmation{TransactionID: tx.ID}
	if p.MarkPaid {
		u, ok := m.users[p.UserID]
		if !ok {
			if p.UserEmail == "" {
				delete(m.payments, p.PaymentID)
				m.txs = m.txs[:len(m.txs)-1]
				return nil, domain.ErrPayingUserMissing
			}
			u = domain.User{ID: p.UserID, Email: p.UserEmail}
			conf.UserCreated = true
		}
		u.PaymentStatus = domain.PaymentPaid
		u.Plan = p.Plan
		u.PaidUntil = p.PaidUntil
		m.users[p.UserID] = u
		conf.UserUpdated = true
	}
	return conf, nil
}

func (m *memSubscriptions) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memSubscriptions) SetExpired(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.PaymentStatus != domain.PaymentPaid {
		return false, nil
	}
	u.PaymentStatus = domain.PaymentExpired
	m.users[userID] = u
	return true, nil
}

func (m *memSubscriptions) ExpireLapsed(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}
