package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/pkg/payment"
)

// SubscriptionStore persists payments and status transitions.
type SubscriptionStore interface {
	// RecordApprovedPayment inserts the transaction and, when p.MarkPaid is
	// set and the row is new, marks the user paid. Both happen atomically.
	RecordApprovedPayment(ctx context.Context, p domain.ApprovedPayment) (*domain.Confirmation, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error)
	// SetExpired moves a paid user to expired and reports whether it did.
	SetExpired(ctx context.Context, userID string) (bool, error)
	// ExpireLapsed expires paid users whose paid_until is before now and
	// returns their ids.
	ExpireLapsed(ctx context.Context, now time.Time) ([]string, error)
}

// Publisher announces entitlement changes. EntitlementHub and
// EntitlementRelay implement it.
type Publisher interface {
	Publish(change EntitlementChange)
}

// SubscriptionService turns confirmed payments into entitlement.
type SubscriptionService struct {
	store  SubscriptionStore
	hub    Publisher
	policy domain.ExpiryPolicy
	log    *zap.Logger
	now    func() time.Time
}

func NewSubscriptionService(store SubscriptionStore, hub Publisher, policy domain.ExpiryPolicy, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:  store,
		hub:    hub,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// ConfirmPayment persists an approved payment fetched from the provider.
// Redelivery of the same payment id is a no-op.
func (s *SubscriptionService) ConfirmPayment(ctx context.Context, p *payment.Payment) (*domain.Confirmation, error) {
	if !p.Approved() {
		return nil, fmt.Errorf("payment %s is %q, not approved", p.ID, p.Status)
	}

	planID := strings.TrimSpace(p.ExternalReference)
	userID := p.MetadataString("user_id")
	if userID == "" {
		userID = domain.GuestUserID
	}

	email := p.MetadataString("user_email")
	if email == "" {
		email = strings.TrimSpace(p.Payer.Email)
	}

	now := s.now().UTC()
	ap := domain.ApprovedPayment{
		PaymentID:     p.ID.String(),
		UserID:        userID,
		UserEmail:     email,
		Plan:          planID,
		Amount:        p.TransactionAmount,
		PaymentMethod: p.PaymentMethodID,
		PaidAt:        now,
	}

	plan, known := domain.LookupPlan(planID)
	switch {
	case userID == domain.GuestUserID:
		s.log.Warn("approved payment without user id; recording only",
			zap.String("payment_id", ap.PaymentID), zap.String("plan", planID))
	case !known:
		s.log.Warn("approved payment for unknown plan; recording only",
			zap.String("payment_id", ap.PaymentID), zap.String("plan", planID), zap.String("user_id", userID))
	default:
		until := now.AddDate(0, plan.Months, 0)
		ap.PaidUntil = &until
		ap.MarkPaid = true
		if ap.Amount == 0 {
			ap.Amount = plan.Price
		}
	}

	conf, err := s.store.RecordApprovedPayment(ctx, ap)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment %s: %w", ap.PaymentID, err)
	}

	switch {
	case conf.Duplicate:
		s.log.Info("duplicate payment notification ignored", zap.String("payment_id", ap.PaymentID))
	case conf.UserCreated:
		s.log.Warn("paying user had no record; created it paid",
			zap.String("payment_id", ap.PaymentID), zap.String("user_id", userID))
		s.publish(userID, domain.PaymentPaid, planID)
	case conf.UserUpdated:
		s.log.Info("user upgraded", zap.String("payment_id", ap.PaymentID), zap.String("user_id", userID), zap.String("plan", planID))
		s.publish(userID, domain.PaymentPaid, planID)
	}
	return conf, nil
}

// SimulateUpgrade marks a user paid without a provider. Development and
// admin use only.
func (s *SubscriptionService) SimulateUpgrade(ctx context.Context, userID, planID string) (*domain.Confirmation, error) {
	plan, ok := domain.LookupPlan(planID)
	if !ok {
		return nil, domain.ErrUnknownPlan
	}
	now := s.now().UTC()
	until := now.AddDate(0, plan.Months, 0)

	conf, err := s.store.RecordApprovedPayment(ctx, domain.ApprovedPayment{
		PaymentID:     "sim-" + domain.NewID(),
		UserID:        userID,
		Plan:          plan.ID,
		Amount:        plan.Price,
		PaymentMethod: "simulated",
		PaidAt:        now,
		PaidUntil:     &until,
		MarkPaid:      true,
	})
	if errors.Is(err, domain.ErrPayingUserMissing) {
		return nil, domain.ErrNotFound("user not found")
	}
	if err != nil {
		return nil, domain.ErrInternal("failed to simulate payment", err)
	}
	s.publish(userID, domain.PaymentPaid, plan.ID)
	return conf, nil
}

// Expire moves a paid user to expired.
func (s *SubscriptionService) Expire(ctx context.Context, userID string) error {
	changed, err := s.store.SetExpired(ctx, userID)
	if err != nil {
		return domain.ErrInternal("failed to expire subscription", err)
	}
	if !changed {
		return domain.ErrNotFound("no paid subscription for user")
	}
	s.log.Info("subscription expired", zap.String("user_id", userID))
	s.publish(userID, domain.PaymentExpired, "")
	return nil
}

// ExpireLapsed expires every paid user past paid_until. It does nothing
// unless the lapse policy is configured.
func (s *SubscriptionService) ExpireLapsed(ctx context.Context, now time.Time) ([]string, error) {
	if s.policy != domain.ExpiryLapse {
		return nil, nil
	}
	ids, err := s.store.ExpireLapsed(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire lapsed subscriptions: %w", err)
	}
	for _, id := range ids {
		s.publish(id, domain.PaymentExpired, "")
	}
	if len(ids) > 0 {
		s.log.Info("lapsed subscriptions expired", zap.Int("count", len(ids)))
	}
	return ids, nil
}

// Policy returns the configured expiry policy.
func (s *SubscriptionService) Policy() domain.ExpiryPolicy {
	return s.policy
}

// ListTransactions returns the user's transactions, newest first.
func (s *SubscriptionService) ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	txs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to list transactions", err)
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	return txs, nil
}

func (s *SubscriptionService) publish(userID string, status domain.PaymentStatus, plan string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(EntitlementChange{UserID: userID, PaymentStatus: status, Plan: plan})
}
