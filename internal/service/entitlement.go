package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harmoni/backend/internal/devicestore"
	"github.com/harmoni/backend/internal/domain"
)

// Device-local keys.
const (
	KeyPremium       = "harmoni-premium"
	KeyPlan          = "harmoni-plan"
	KeyPendingPlan   = "harmoni-pending-plan"
	KeyPaymentDate   = "harmoni-payment-date"
	KeySession       = "harmoni-session"
	KeyProfile       = "harmoni-profile"
	KeyHealthProfile = "harmoni-health-profile"
	KeyEntries       = "harmoni-entries"
	KeyJournalNotes  = "harmoni-journal-notes"
)

// deviceKeys is every key cleared on sign-out.
var deviceKeys = []string{
	KeyPremium, KeyPlan, KeyPendingPlan, KeyPaymentDate, KeySession,
	KeyProfile, KeyHealthProfile, KeyEntries, KeyJournalNotes,
}

// LocalHint is the device's cached idea of its entitlement. It is a UI hint
// and never an input to an access decision.
type LocalHint struct {
	Present     bool   `json:"present"`
	Premium     bool   `json:"premium"`
	Plan        string `json:"plan,omitempty"`
	PendingPlan string `json:"pendingPlan,omitempty"`
	PaymentDate string `json:"paymentDate,omitempty"`
}

// LocalFlag reads and writes the device-local entitlement mirror.
type LocalFlag struct {
	store devicestore.Store
	now   func() time.Time
}

func NewLocalFlag(store devicestore.Store) *LocalFlag {
	return &LocalFlag{store: store, now: time.Now}
}

// ChooseFree records that the user picked the free plan.
func (f *LocalFlag) ChooseFree(ctx context.Context, device string) error {
	if err := f.store.Set(ctx, device, KeyPremium, "false"); err != nil {
		return err
	}
	return f.store.Set(ctx, device, KeyPlan, domain.FreePlanID)
}

// RecordPendingPlan remembers the plan sent to checkout.
func (f *LocalFlag) RecordPendingPlan(ctx context.Context, device, plan string) error {
	return f.store.Set(ctx, device, KeyPendingPlan, plan)
}

// RecordPaymentSuccess handles the checkout success redirect. Without an
// external reference nothing is written.
func (f *LocalFlag) RecordPaymentSuccess(ctx context.Context, device, externalReference string) error {
	if externalReference == "" {
		return nil
	}
	if err := f.store.Set(ctx, device, KeyPremium, "true"); err != nil {
		return err
	}
	if err := f.store.Set(ctx, device, KeyPlan, externalReference); err != nil {
		return err
	}
	if err := f.store.Set(ctx, device, KeyPaymentDate, f.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return f.store.Delete(ctx, device, KeyPendingPlan)
}

// Mirror copies an authoritative paid status to the device.
func (f *LocalFlag) Mirror(ctx context.Context, device string, status domain.PaymentStatus) error {
	if status != domain.PaymentPaid {
		return nil
	}
	return f.store.Set(ctx, device, KeyPremium, "true")
}

// Read returns the device hint.
func (f *LocalFlag) Read(ctx context.Context, device string) (LocalHint, error) {
	var hint LocalHint
	v, ok, err := f.store.Get(ctx, device, KeyPremium)
	if err != nil {
		return hint, err
	}
	hint.Present = ok
	hint.Premium = ok && v == "true"

	for key, dst := range map[string]*string{
		KeyPlan:        &hint.Plan,
		KeyPendingPlan: &hint.PendingPlan,
		KeyPaymentDate: &hint.PaymentDate,
	} {
		if *dst, _, err = f.store.Get(ctx, device, key); err != nil {
			return hint, err
		}
	}
	return hint, nil
}

// Clear removes every device-local mirror, including the persisted session.
func (f *LocalFlag) Clear(ctx context.Context, device string) error {
	return f.store.Delete(ctx, device, deviceKeys...)
}

// ShellState is what the app shell renders before and after the
// authoritative check.
type ShellState struct {
	Hint        LocalHint `json:"hint"`
	ShowPaywall bool      `json:"showPaywall"`
	// Provisional is true while ShowPaywall comes from the device hint.
	Provisional bool `json:"provisional"`
}

// Shell combines the device hint with the authoritative record when known.
func Shell(hint LocalHint, sc SessionContext) ShellState {
	if sc.User != nil {
		return ShellState{Hint: hint, ShowPaywall: sc.PaymentStatus() != domain.PaymentPaid}
	}
	return ShellState{Hint: hint, ShowPaywall: !hint.Premium, Provisional: true}
}

// EntitlementClaims is the signed, short-lived payment status statement.
type EntitlementClaims struct {
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Plan          string               `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// ErrInvalidClaim is returned for any claim that fails verification.
var ErrInvalidClaim = errors.New("invalid entitlement claim")

// ClaimIssuer signs and verifies entitlement claims.
type ClaimIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewClaimIssuer(secret string, ttl time.Duration) *ClaimIssuer {
	return &ClaimIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns how long issued claims stay valid.
func (c *ClaimIssuer) TTL() time.Duration {
	return c.ttl
}

// Issue signs the user's current payment status.
func (c *ClaimIssuer) Issue(u domain.User) (string, error) {
	now := c.now()
	claims := EntitlementClaims{
		PaymentStatus: u.PaymentStatus,
		Plan:          u.Plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign entitlement claim: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and that the claim belongs to subject.
func (c *ClaimIssuer) Verify(token, subject string) (*EntitlementClaims, error) {
	claims := &EntitlementClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidClaim
	}
	return claims, nil
}

// Decide turns the claim a request carried into a checkpoint decision. A
// missing or unverifiable claim abstains; a valid claim that is not paid
// denies. A claim can never grant on its own.
func (c *ClaimIssuer) Decide(token, subject string) Decision {
	if token == "" || subject == "" {
		return allow(ReasonNoClaim)
	}
	claims, err := c.Verify(token, subject)
	if err != nil {
		return allow(ReasonNoClaim)
	}
	if claims.PaymentStatus != domain.PaymentPaid {
		return redirect(SubscriptionPath, ReasonNotPaid)
	}
	return allow(ReasonPaid)
}

// Reissue returns a fresh claim when the one the request carried is older
// than the session's authoritative record and disagrees with it. It returns
// "" when the carried claim should stand.
func (c *ClaimIssuer) Reissue(token string, sc SessionContext) (string, error) {
	if token == "" || sc.User == nil || sc.User.Source != domain.SourceAuthoritative || sc.FetchedAt.IsZero() {
		return "", nil
	}
	claims, err := c.Verify(token, sc.UserID())
	if err != nil {
		return "", nil
	}
	if claims.PaymentStatus == sc.User.User.PaymentStatus {
		return "", nil
	}
	if claims.IssuedAt != nil && !sc.FetchedAt.After(claims.IssuedAt.Time) {
		return "", nil
	}
	return c.Issue(sc.User.User)
}
