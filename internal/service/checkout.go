package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/pkg/payment"
)

// FallbackBaseURL is used when neither config nor the request names the app.
const FallbackBaseURL = "http://localhost:3000"

// CheckoutService creates payment preferences for plan purchases.
type CheckoutService struct {
	gateway payment.Gateway
	baseURL string
	now     func() time.Time
}

// NewCheckoutService creates a CheckoutService. baseURL may be empty, in
// which case return links are built from the request origin.
func NewCheckoutService(gateway payment.Gateway, baseURL string) *CheckoutService {
	return &CheckoutService{gateway: gateway, baseURL: baseURL, now: time.Now}
}

// ResolveBaseURL picks the configured URL, then origin, then the local
// fallback, and rejects anything that is not an absolute http(s) URL.
func ResolveBaseURL(configured, origin string) (string, error) {
	base := strings.TrimSpace(configured)
	if base == "" {
		base = strings.TrimSpace(origin)
	}
	if base == "" {
		base = FallbackBaseURL
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", domain.ErrInvalidReturnURL
	}
	return base, nil
}

// Buyer identifies a signed-in buyer. The zero value is a guest.
type Buyer struct {
	UserID string
	Email  string
}

// CreatePreference creates a checkout for planID. The buyer's id and email
// are attached to the payment metadata when the buyer is signed in.
func (s *CheckoutService) CreatePreference(ctx context.Context, planID, origin string, buyer Buyer) (*domain.PreferenceResponse, error) {
	plan, ok := domain.LookupPlan(planID)
	if !ok {
		return nil, domain.ErrUnknownPlan
	}

	base, err := ResolveBaseURL(s.baseURL, origin)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"plan":      plan.ID,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	if buyer.UserID != "" {
		metadata["user_id"] = buyer.UserID
		if buyer.Email != "" {
			metadata["user_email"] = buyer.Email
		}
	}

	pref := payment.Preference{
		Items: []payment.Item{{
			Title:       plan.Title,
			Description: plan.Description,
			Quantity:    1,
			UnitPrice:   plan.Price,
			CurrencyID:  domain.Currency,
		}},
		BackURLs: payment.BackURLs{
			Success: base + "/payment/success",
			Failure: base + "/payment/failure",
			Pending: base + "/payment/pending",
		},
		AutoReturn:          "approved",
		ExternalReference:   plan.ID,
		Metadata:            metadata,
		StatementDescriptor: domain.StatementDescriptor,
		PaymentMethods: payment.PaymentMethods{
			ExcludedPaymentTypes: []map[string]string{},
			Installments:         12,
		},
	}

	res, err := s.gateway.CreatePreference(ctx, pref)
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, domain.ErrPaymentNotConfigured
		}
		return nil, err
	}

	return &domain.PreferenceResponse{
		ID:               res.ID,
		InitPoint:        res.InitPoint,
		SandboxInitPoint: res.SandboxInitPoint,
	}, nil
}
